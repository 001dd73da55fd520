package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/frame"
)

// Manager は設定されたチャンネル群の Controller と Slot を管理する
type Manager struct {
	device      Device
	controllers map[int]*Controller
	order       []int
	logger      *zap.Logger

	mu      sync.RWMutex
	started bool
	torch   bool
}

// NewManager は新しいManagerを作成する。チャンネルごとに Slot を1つ割り当てる
func NewManager(device Device, channels []Channel, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		device:      device,
		controllers: make(map[int]*Controller, len(channels)),
		logger:      logger.With(zap.String("component", "camera_manager")),
	}

	for _, ch := range channels {
		if _, dup := m.controllers[ch.Index]; dup {
			m.logger.Warn("チャンネル番号が重複しています", zap.Int("channel", ch.Index))
			continue
		}
		m.controllers[ch.Index] = NewController(ch, device, frame.NewSlot(), logger)
		m.order = append(m.order, ch.Index)
	}
	sort.Ints(m.order)

	return m
}

// Start は全チャンネルをオープンして出力面を設定する。
// 1チャンネルの失敗は他のチャンネルに影響しない。失敗はまとめて返す
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var startErrors []error
	for _, idx := range m.order {
		if err := m.openChannel(ctx, m.controllers[idx]); err != nil {
			startErrors = append(startErrors, fmt.Errorf("チャンネル %d の開始に失敗: %w", idx, err))
		}
	}
	m.started = true

	m.logger.Info("カメラマネージャーを開始しました",
		zap.Int("channels", len(m.order)),
		zap.Int("failed", len(startErrors)))
	return errors.Join(startErrors...)
}

func (m *Manager) openChannel(ctx context.Context, c *Controller) error {
	ch := c.Channel()
	if err := c.Open(ctx); err != nil {
		return err
	}
	preview := Surface{Kind: SurfacePreview, Width: ch.Width, Height: ch.Height}
	sink := Surface{Kind: SurfaceFrameSink, Width: ch.Width, Height: ch.Height}
	return c.AttachOutputs(ctx, preview, sink)
}

// Stop は全チャンネルをクローズする
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stopErrors []error
	for _, idx := range m.order {
		if err := m.controllers[idx].Close(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("チャンネル %d の停止に失敗: %w", idx, err))
		}
	}
	m.started = false
	m.torch = false

	m.logger.Info("カメラマネージャーを停止しました")
	return errors.Join(stopErrors...)
}

// Started は Start 済みかを返す
func (m *Manager) Started() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// Channels は管理しているチャンネルをチャンネル番号順に返す
func (m *Manager) Channels() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	channels := make([]Channel, 0, len(m.order))
	for _, idx := range m.order {
		channels = append(channels, m.controllers[idx].Channel())
	}
	return channels
}

// Controller は指定チャンネルの Controller を返す
func (m *Manager) Controller(index int) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.controllers[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, index)
	}
	return c, nil
}

// Slot は指定チャンネルの Slot を返す
func (m *Manager) Slot(index int) (*frame.Slot, bool) {
	c, err := m.Controller(index)
	if err != nil {
		return nil, false
	}
	return c.Slot(), true
}

// Snapshot は指定チャンネルの最新フレームのコピーを返す
func (m *Manager) Snapshot(index int) (*frame.Frame, bool) {
	c, err := m.Controller(index)
	if err != nil {
		return nil, false
	}
	return c.Snapshot()
}

// Infos は全チャンネルの状態情報を返す
func (m *Manager) Infos() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.order))
	for _, idx := range m.order {
		infos = append(infos, m.controllers[idx].Info())
	}
	return infos
}

// ReopenChannel はチャンネルを閉じてから開き直す。自動リトライはしないので利用者が呼ぶ
func (m *Manager) ReopenChannel(ctx context.Context, index int) error {
	c, err := m.Controller(index)
	if err != nil {
		return err
	}

	if err := c.Close(); err != nil {
		m.logger.Warn("再オープン前のクローズに失敗", zap.Int("channel", index), zap.Error(err))
	}
	return m.openChannel(ctx, c)
}

// ZoomAll は全チャンネルのズーム倍率に factor を掛ける
func (m *Manager) ZoomAll(factor float64) error {
	return m.forEachOpen(func(c *Controller) error { return c.SetZoom(factor) })
}

// ResetAll は全チャンネルの設定をリセットする
func (m *Manager) ResetAll() error {
	return m.forEachOpen(func(c *Controller) error { return c.Reset() })
}

// TriggerAutoFocusAll は全チャンネルでAFをトリガーする
func (m *Manager) TriggerAutoFocusAll() error {
	return m.forEachOpen(func(c *Controller) error { return c.TriggerAutoFocus() })
}

// ToggleTorch はライトを切り替え、新しい状態を返す。
// ライトを持つチャンネルが1つもなければ ErrTorchUnsupported
func (m *Manager) ToggleTorch() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := !m.torch
	switched := 0
	for _, idx := range m.order {
		err := m.controllers[idx].SetTorch(next)
		switch {
		case err == nil:
			switched++
		case errors.Is(err, ErrTorchUnsupported), errors.Is(err, ErrChannelClosed):
		default:
			return m.torch, fmt.Errorf("チャンネル %d: %w", idx, err)
		}
	}
	if switched == 0 {
		return m.torch, ErrTorchUnsupported
	}

	m.torch = next
	m.logger.Info("ライトを切り替えました", zap.Bool("on", next))
	return next, nil
}

// forEachOpen はクローズ中のチャンネルを飛ばして fn を適用する
func (m *Manager) forEachOpen(fn func(*Controller) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, idx := range m.order {
		if err := fn(m.controllers[idx]); err != nil && !errors.Is(err, ErrChannelClosed) {
			errs = append(errs, fmt.Errorf("チャンネル %d: %w", idx, err))
		}
	}
	return errors.Join(errs...)
}
