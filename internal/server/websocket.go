package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/frame"
)

const wsWriteTimeout = 5 * time.Second

// serveWebSocket は1フレームを1バイナリメッセージとして送る。
// 取り出し、待機、停止の扱いはMJPEGストリームと同じ
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, channel int, slot *frame.Slot) {
	client := newStreamClient(channel, "websocket", r.RemoteAddr)
	if !s.registerClient(client) {
		http.Error(w, "サーバーは停止処理中です", http.StatusServiceUnavailable)
		return
	}
	defer s.unregisterClient(client)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocketのアップグレードに失敗", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := s.logger.With(
		zap.String("client_id", client.ID),
		zap.Int("channel", channel),
		zap.String("remote", client.Remote))
	logger.Debug("WebSocketクライアントが接続しました")

	// 読み取りはクローズの検知にだけ使う
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("WebSocket読み取りエラー", zap.Error(err))
				}
				return
			}
		}
	}()

	stopCh := s.stopSignal()
	err = s.pump(ctx, stopCh, slot, client, func(f *frame.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.BinaryMessage, f.Data)
	})
	if err != nil {
		logger.Debug("WebSocketクライアントが切断されました",
			zap.Uint64("frames_sent", client.frames.Load()), zap.Error(err))
		return
	}

	select {
	case <-stopCh:
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	default:
	}
	logger.Debug("WebSocketストリームを終了しました", zap.Uint64("frames_sent", client.frames.Load()))
}
