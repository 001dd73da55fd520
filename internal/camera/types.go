package camera

import (
	"context"
	"fmt"
)

// AFMode はオートフォーカスモード
type AFMode int

const (
	AFModeOff           AFMode = iota // オートフォーカスなし
	AFModeAuto                        // 通常のオートフォーカス
	AFModeLaserAssisted               // レーザー補助オートフォーカス
)

// String はモード名を返す
func (m AFMode) String() string {
	switch m {
	case AFModeOff:
		return "off"
	case AFModeAuto:
		return "auto"
	case AFModeLaserAssisted:
		return "laser-assisted"
	default:
		return fmt.Sprintf("AFMode(%d)", int(m))
	}
}

// MarshalText はJSON出力用
func (m AFMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseAFMode はモード名を解析する
func ParseAFMode(s string) (AFMode, error) {
	switch s {
	case "off", "":
		return AFModeOff, nil
	case "auto":
		return AFModeAuto, nil
	case "laser-assisted", "laser":
		return AFModeLaserAssisted, nil
	default:
		return AFModeOff, fmt.Errorf("不明なAFモード: %q", s)
	}
}

// SelectAFMode はデバイスが対応するモードから1つ選ぶ。
// レーザー補助 > オート > オフ の順に優先する。
func SelectAFMode(supported []AFMode) AFMode {
	selected := AFModeOff
	for _, m := range supported {
		switch m {
		case AFModeLaserAssisted:
			return AFModeLaserAssisted
		case AFModeAuto:
			selected = AFModeAuto
		}
	}
	return selected
}

// Offset はパンオフセット（ピクセル単位）
type Offset struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String は "(x, y)" 形式を返す
func (o Offset) String() string {
	return fmt.Sprintf("(%d, %d)", o.X, o.Y)
}

// Capabilities はチャンネルの能力情報
type Capabilities struct {
	MaxZoom   float64  `json:"max_zoom"`   // 最大ズーム倍率（1.0以上）
	MaxOffset Offset   `json:"max_offset"` // 各軸の最大オフセット
	AFModes   []AFMode `json:"af_modes"`   // 対応するAFモード
}

// normalize は不正な値を補正したコピーを返す
func (c Capabilities) normalize() Capabilities {
	out := c
	if out.MaxZoom < 1.0 {
		out.MaxZoom = 1.0
	}
	out.MaxOffset = Offset{X: absInt(c.MaxOffset.X), Y: absInt(c.MaxOffset.Y)}
	out.AFModes = append([]AFMode(nil), c.AFModes...)
	return out
}

// SurfaceKind は出力面の種類
type SurfaceKind int

const (
	SurfacePreview   SurfaceKind = iota // プレビュー表示面
	SurfaceFrameSink                    // JPEGフレームの受け取り面
)

// Surface はキャプチャセッションの出力面
type Surface struct {
	Kind   SurfaceKind
	Width  int
	Height int
}

// Request はキャプチャリクエスト
type Request struct {
	Zoom      float64 // ズーム倍率
	Offset    *Offset // パンオフセット（nil は未指定）
	AFMode    AFMode  // AFモード
	AFTrigger bool    // このリクエストでAFを開始する（単発リクエストのみ）
}

// Result はキャプチャ完了の結果
type Result struct {
	Request Request
	Frame   []byte // エンコード済み画像。デバイス側のバッファなので保持しないこと
	// LaserPointOffset はレーザー補助AFの後に報告される、
	// レーザー点を画面中央に置くためのオフセット
	LaserPointOffset *Offset
}

// CompletionFunc はキャプチャ完了時にデバイスから呼ばれる
type CompletionFunc func(Result)

// Device はカメラデバイスの抽象
type Device interface {
	// ListChannels は利用可能なチャンネルIDの一覧を返す
	ListChannels(ctx context.Context) ([]string, error)

	// Capabilities はチャンネルの能力情報を返す
	Capabilities(ctx context.Context, channelID string) (Capabilities, error)

	// Open はチャンネルをオープンする
	Open(ctx context.Context, channelID string) (Handle, error)
}

// Handle はオープン済みのデバイスチャンネル
type Handle interface {
	// CreateSession は出力面の組み合わせでキャプチャセッションを作成する
	CreateSession(ctx context.Context, outputs []Surface, onComplete CompletionFunc) (Session, error)

	// Close はデバイスを解放する
	Close() error
}

// Session は構成済みのキャプチャセッション
type Session interface {
	// SetRepeatingRequest は繰り返しリクエストを置き換える
	SetRepeatingRequest(req Request) error

	// Capture は単発リクエストを発行する。繰り返しリクエストは変わらない
	Capture(req Request) error

	// Close はセッションを解放する
	Close() error
}

// Torch はライトを持つデバイスハンドルが実装する
type Torch interface {
	SetTorchMode(on bool) error
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
