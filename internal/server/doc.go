// Package server は、カメラ映像をブラウザに配信するHTTPサーバーを提供します。
//
// 責務:
//   - チャンネル一覧ページ (/) とビューアーページ (/camera{N}) の配信
//   - MJPEGストリーム (/stream{N}) と WebSocket ストリーム (/ws{N}) の配信
//   - 最新フレームの静止画 (/snapshot{N}) の配信
//   - ズーム、オフセット、AF、ライトの操作API (/api/...)
//
// ストリームはクライアントごとに独立したループで Slot をポーリングします。
// TakeLatest は取り出したフレームを消費するため、同じチャンネルを複数の
// クライアントが見るとフレームを取り合います。各クライアントは欠けのある
// フレーム列を受け取りますが、同じフレームを二度受け取ることはありません。
//
// 状態遷移:
//
//	Stopped → Starting → Listening → Stopping → Stopped
//
// Stop は全ストリームループに停止を通知し、リスナーを閉じます。
// Stopping 中に届いたリクエストには 503 を返します。
package server
