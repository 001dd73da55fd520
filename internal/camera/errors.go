package camera

import "errors"

var (
	// ErrDeviceUnavailable はチャンネルが存在しないか権限がない
	ErrDeviceUnavailable = errors.New("カメラデバイスが利用できません")

	// ErrConfigurationFailed はデバイスが出力面の組み合わせを拒否した
	ErrConfigurationFailed = errors.New("キャプチャセッションの構成に失敗")

	// ErrChannelClosed はクローズ中のチャンネルに対する操作
	ErrChannelClosed = errors.New("チャンネルがオープンされていません")

	// ErrUnknownChannel は設定されていないチャンネル番号
	ErrUnknownChannel = errors.New("不明なチャンネル")

	// ErrTorchUnsupported はライトを持たないデバイス
	ErrTorchUnsupported = errors.New("このデバイスはライトに対応していません")
)
