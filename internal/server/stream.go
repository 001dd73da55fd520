package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/frame"
)

// streamClient は接続中のストリームクライアント
type streamClient struct {
	ID        string
	Channel   int
	Kind      string // mjpeg, websocket
	Remote    string
	StartedAt time.Time

	frames atomic.Uint64
}

// ClientInfo は /api/status で返すクライアント情報
type ClientInfo struct {
	ID         string    `json:"id"`
	Channel    int       `json:"channel"`
	Kind       string    `json:"kind"`
	Remote     string    `json:"remote"`
	StartedAt  time.Time `json:"started_at"`
	FramesSent uint64    `json:"frames_sent"`
}

func newStreamClient(channel int, kind, remote string) *streamClient {
	return &streamClient{
		ID:        uuid.NewString(),
		Channel:   channel,
		Kind:      kind,
		Remote:    remote,
		StartedAt: time.Now(),
	}
}

// registerClient はクライアントを登録する。停止処理中なら false
func (s *Server) registerClient(c *streamClient) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if s.stopping {
		return false
	}
	s.clients[c.ID] = c
	s.clientsWG.Add(1)
	return true
}

func (s *Server) unregisterClient(c *streamClient) {
	s.clientsMu.Lock()
	delete(s.clients, c.ID)
	s.clientsMu.Unlock()
	s.clientsWG.Done()
}

// Clients は接続中のクライアント一覧を返す
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	infos := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		infos = append(infos, ClientInfo{
			ID:         c.ID,
			Channel:    c.Channel,
			Kind:       c.Kind,
			Remote:     c.Remote,
			StartedAt:  c.StartedAt,
			FramesSent: c.frames.Load(),
		})
	}
	return infos
}

// pump は Slot からフレームを取り出して send に渡すループ。
// 停止通知かクライアント切断で nil を返し、送信失敗ならそのエラーを返す
func (s *Server) pump(ctx context.Context, stopCh <-chan struct{}, slot *frame.Slot, c *streamClient, send func(*frame.Frame) error) error {
	poll := s.config.Stream.PollInterval
	interval := s.config.Stream.FrameInterval

	for {
		if stopped(ctx, stopCh) {
			return nil
		}

		f, ok := slot.TakeLatest()
		if !ok {
			if !sleep(ctx, stopCh, poll) {
				return nil
			}
			continue
		}

		// 書き込み直前にも停止を確認する
		if stopped(ctx, stopCh) {
			return nil
		}
		if err := send(f); err != nil {
			return err
		}
		c.frames.Add(1)

		if !sleep(ctx, stopCh, interval) {
			return nil
		}
	}
}

func stopped(ctx context.Context, stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleep は d だけ待つ。途中で停止通知か切断があれば false を返す
func sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// partWriter はmultipart/x-mixed-replaceのパートを書き込む
type partWriter struct {
	w        io.Writer
	flusher  http.Flusher
	boundary string
}

// WritePart は1フレーム分のパートを書き込んでフラッシュする
func (p *partWriter) WritePart(data []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", p.boundary, len(data))
	if _, err := io.WriteString(p.w, header); err != nil {
		return err
	}
	if _, err := p.w.Write(data); err != nil {
		return err
	}
	if _, err := io.WriteString(p.w, "\r\n"); err != nil {
		return err
	}
	p.flusher.Flush()
	return nil
}

// serveMJPEG は1クライアント分のMJPEGストリームを配信する
func (s *Server) serveMJPEG(w http.ResponseWriter, r *http.Request, channel int, slot *frame.Slot) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "ストリーミングに対応していません", http.StatusInternalServerError)
		return
	}

	client := newStreamClient(channel, "mjpeg", r.RemoteAddr)
	if !s.registerClient(client) {
		http.Error(w, "サーバーは停止処理中です", http.StatusServiceUnavailable)
		return
	}
	defer s.unregisterClient(client)

	logger := s.logger.With(
		zap.String("client_id", client.ID),
		zap.Int("channel", channel),
		zap.String("remote", client.Remote))
	logger.Debug("ストリームクライアントが接続しました")

	// レスポンスヘッダーを設定
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+s.config.Stream.Boundary)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pw := &partWriter{w: w, flusher: flusher, boundary: s.config.Stream.Boundary}
	err := s.pump(r.Context(), s.stopSignal(), slot, client, func(f *frame.Frame) error {
		return pw.WritePart(f.Data)
	})
	if err != nil {
		// クライアントの切断はこの接続だけの問題なのでログに残すだけ
		logger.Debug("ストリームクライアントが切断されました",
			zap.Uint64("frames_sent", client.frames.Load()), zap.Error(err))
		return
	}
	logger.Debug("ストリームを終了しました", zap.Uint64("frames_sent", client.frames.Load()))
}
