// Package camera カメラチャンネルのキャプチャ制御を担う
//
// # 責務
// - カメラデバイス（外部コラボレータ）のオープンとクローズ
// - キャプチャセッションの構成（プレビュー面 + フレームシンク面）
// - ズーム・パンオフセット・オートフォーカスの設定とリクエスト発行
// - 完了したキャプチャを frame.Slot へ書き込む
// - 複数チャンネルの一括管理（Manager）
//
// # 状態遷移
//
//	Closed → Opening → Open(セッションなし) → SessionConfiguring → Streaming → Closed
//
// # 仕様
// - Controller: 1チャンネル分のデバイス/セッションのライフサイクル
// - Manager: 設定されたチャンネル群の Controller と Slot を保持する
// - Device 実装: synthetic（テストパターン）, spool（ディレクトリ監視）, v4l2（ffmpeg経由）
// - Close 後にデバイスから届いたフレームは破棄され、Slot には書き込まれない
// - 完了コールバックは Slot への書き込み以上の時間ブロックしない
//
// # 前提要件
//   - v4l2 バックエンドのみ v4l-utils と ffmpeg が必要
//     Ubuntu/Debian: sudo apt install v4l-utils ffmpeg
package camera
