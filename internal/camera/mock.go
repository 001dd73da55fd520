package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MockDevice はテスト用のDevice実装。発行されたリクエストを記録する
type MockDevice struct {
	mu      sync.Mutex
	caps    map[string]Capabilities
	handles map[string][]*MockHandle

	// 失敗を注入する
	OpenErr          error
	CreateSessionErr error
	RepeatingErr     error
}

// NewMockDevice は新しいMockDeviceを作成する
func NewMockDevice(caps map[string]Capabilities) *MockDevice {
	if caps == nil {
		caps = make(map[string]Capabilities)
	}
	return &MockDevice{
		caps:    caps,
		handles: make(map[string][]*MockHandle),
	}
}

// ListChannels はチャンネルIDを昇順で返す
func (d *MockDevice) ListChannels(_ context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.caps))
	for id := range d.caps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Capabilities はチャンネルの能力情報を返す
func (d *MockDevice) Capabilities(_ context.Context, channelID string) (Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, ok := d.caps[channelID]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrDeviceUnavailable, channelID)
	}
	return caps, nil
}

// Open はチャンネルをオープンする
func (d *MockDevice) Open(_ context.Context, channelID string) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if _, ok := d.caps[channelID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, channelID)
	}

	h := &MockHandle{device: d, channelID: channelID}
	d.handles[channelID] = append(d.handles[channelID], h)
	return h, nil
}

// Handle は最後にオープンされたハンドルを返す
func (d *MockDevice) Handle(channelID string) *MockHandle {
	d.mu.Lock()
	defer d.mu.Unlock()

	hs := d.handles[channelID]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// OpenCount はチャンネルがオープンされた回数を返す
func (d *MockDevice) OpenCount(channelID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles[channelID])
}

// MockHandle はMockDeviceのハンドル
type MockHandle struct {
	device    *MockDevice
	channelID string

	mu       sync.Mutex
	closed   bool
	torch    bool
	sessions []*MockSession
}

// CreateSession はプレビュー面とフレームシンク面がそろっていればセッションを作成する
func (h *MockHandle) CreateSession(_ context.Context, outputs []Surface, onComplete CompletionFunc) (Session, error) {
	h.device.mu.Lock()
	createErr := h.device.CreateSessionErr
	repeatingErr := h.device.RepeatingErr
	h.device.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New("ハンドルはクローズ済みです")
	}
	if createErr != nil {
		return nil, createErr
	}
	if !hasSurface(outputs, SurfacePreview) || !hasSurface(outputs, SurfaceFrameSink) {
		return nil, fmt.Errorf("%w: 出力面が不足しています", ErrConfigurationFailed)
	}

	s := &MockSession{onComplete: onComplete, repeatingErr: repeatingErr}
	h.sessions = append(h.sessions, s)
	return s, nil
}

// Close はハンドルをクローズする
func (h *MockHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// SetTorchMode はライト状態を記録する
func (h *MockHandle) SetTorchMode(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("ハンドルはクローズ済みです")
	}
	h.torch = on
	return nil
}

// TorchOn はライト状態を返す
func (h *MockHandle) TorchOn() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.torch
}

// Closed はクローズ済みかを返す
func (h *MockHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Session は最後に作成されたセッションを返す
func (h *MockHandle) Session() *MockSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) == 0 {
		return nil
	}
	return h.sessions[len(h.sessions)-1]
}

// SessionCount は作成されたセッション数を返す
func (h *MockHandle) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// MockSession はMockHandleのセッション
type MockSession struct {
	onComplete   CompletionFunc
	repeatingErr error

	mu        sync.Mutex
	closed    bool
	repeating []Request
	captures  []Request
}

// SetRepeatingRequest はリクエストを記録する
func (s *MockSession) SetRepeatingRequest(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("セッションはクローズ済みです")
	}
	if s.repeatingErr != nil {
		return s.repeatingErr
	}
	s.repeating = append(s.repeating, req)
	return nil
}

// Capture は単発リクエストを記録する
func (s *MockSession) Capture(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("セッションはクローズ済みです")
	}
	s.captures = append(s.captures, req)
	return nil
}

// Close はセッションをクローズする
func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed はクローズ済みかを返す
func (s *MockSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Emit は完了コールバックを呼び出す。クローズ後でも呼べる（遅れて届くフレームの再現）
func (s *MockSession) Emit(r Result) {
	s.onComplete(r)
}

// EmitFrame はフレームだけを持つ結果を届ける
func (s *MockSession) EmitFrame(data []byte) {
	s.Emit(Result{Request: s.LastRepeating(), Frame: data})
}

// Repeating は発行された繰り返しリクエストの一覧を返す
func (s *MockSession) Repeating() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.repeating...)
}

// LastRepeating は最後の繰り返しリクエストを返す
func (s *MockSession) LastRepeating() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.repeating) == 0 {
		return Request{}
	}
	return s.repeating[len(s.repeating)-1]
}

// Captures は発行された単発リクエストの一覧を返す
func (s *MockSession) Captures() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.captures...)
}

func hasSurface(outputs []Surface, kind SurfaceKind) bool {
	for _, o := range outputs {
		if o.Kind == kind {
			return true
		}
	}
	return false
}
