package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/frame"
)

// State はコントローラーの状態
type State int32

const (
	StateClosed             State = iota // デバイス未オープン
	StateOpening                         // デバイスをオープン中
	StateOpen                            // オープン済み、セッションなし
	StateSessionConfiguring              // セッション作成済み、繰り返しリクエスト未発行
	StateStreaming                       // フレーム配信中
)

// String は状態名を返す
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateSessionConfiguring:
		return "session-configuring"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText はJSON出力用
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Channel はコントローラーが担当するチャンネルの定義
type Channel struct {
	Index  int    `json:"index"`  // 0 始まりのチャンネル番号（/stream{N} の N）
	ID     string `json:"id"`     // デバイス上のチャンネルID
	Name   string `json:"name"`   // 表示名
	Width  int    `json:"width"`  // 出力面の幅
	Height int    `json:"height"` // 出力面の高さ
}

// Info はコントローラーの状態情報
type Info struct {
	Channel        Channel         `json:"channel"`
	State          State           `json:"state"`
	SessionID      string          `json:"session_id,omitempty"`
	Capabilities   Capabilities    `json:"capabilities"`
	Settings       CaptureSettings `json:"settings"`
	Summary        string          `json:"summary,omitempty"`
	Torch          bool            `json:"torch"`
	FramesCaptured uint64          `json:"frames_captured"`
	FramesStale    uint64          `json:"frames_stale"`
	LastFrameAt    time.Time       `json:"last_frame_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

type laserUpdate struct {
	gen    uint64
	offset Offset
}

// Controller は1チャンネル分のデバイスとキャプチャセッションを管理する
type Controller struct {
	channel Channel
	device  Device
	slot    *frame.Slot
	logger  *zap.Logger

	mu        sync.Mutex
	handle    Handle
	session   Session
	sessionID string
	caps      Capabilities
	settings  CaptureSettings
	outputs   []Surface
	torch     bool
	lastErr   error

	// レーザー補正の受け渡し（完了コールバックをブロックしないため容量1）
	laserCh chan laserUpdate
	stopCh  chan struct{}
	doneCh  chan struct{}

	state atomic.Int32

	// pubMu はフレームの公開と世代の更新を排他する
	pubMu sync.RWMutex
	gen   uint64

	seq      atomic.Uint64
	captured atomic.Uint64
	stale    atomic.Uint64

	snapMu   sync.RWMutex
	snapshot *frame.Frame
}

// NewController は新しいControllerを作成する
func NewController(ch Channel, device Device, slot *frame.Slot, logger *zap.Logger) *Controller {
	if slot == nil {
		slot = frame.NewSlot()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		channel:  ch,
		device:   device,
		slot:     slot,
		logger:   logger.With(zap.Int("channel", ch.Index), zap.String("channel_id", ch.ID)),
		settings: NewCaptureSettings(AFModeOff),
		caps:     Capabilities{MaxZoom: DefaultZoom},
		laserCh:  make(chan laserUpdate, 1),
	}
}

// Channel はチャンネル定義を返す
func (c *Controller) Channel() Channel {
	return c.channel
}

// Slot はフレームの書き込み先を返す
func (c *Controller) Slot() *frame.Slot {
	return c.slot
}

// State は現在の状態を返す。デバイス操作中でもブロックしない
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("状態遷移", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

func (c *Controller) isOpenLocked() bool {
	switch c.State() {
	case StateOpen, StateSessionConfiguring, StateStreaming:
		return true
	default:
		return false
	}
}

// Open はデバイスのチャンネルをオープンし、能力情報からAFモードを選ぶ。
// 出力面が既に設定されていればセッションも構成する。
// オープン済みの場合は何もしない
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateClosed {
		return nil
	}
	c.setState(StateOpening)

	caps, err := c.device.Capabilities(ctx, c.channel.ID)
	if err != nil {
		c.setState(StateClosed)
		return c.recordErr(unavailable(c.channel.ID, err))
	}

	handle, err := c.device.Open(ctx, c.channel.ID)
	if err != nil {
		c.setState(StateClosed)
		return c.recordErr(unavailable(c.channel.ID, err))
	}

	c.handle = handle
	c.caps = caps.normalize()
	c.settings = NewCaptureSettings(SelectAFMode(c.caps.AFModes))
	c.torch = false
	c.lastErr = nil
	c.bumpGeneration()

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.refineLoop(c.stopCh, c.doneCh)

	c.setState(StateOpen)
	c.logger.Info("チャンネルをオープンしました",
		zap.Float64("max_zoom", c.caps.MaxZoom),
		zap.Stringer("max_offset", c.caps.MaxOffset),
		zap.Stringer("af_mode", c.settings.AFMode))

	if len(c.outputs) > 0 {
		return c.configureLocked(ctx)
	}
	return nil
}

// AttachOutputs はプレビュー面とフレームシンク面を設定する。
// デバイスがオープン済みならセッションを作り直す。未オープンなら Open 時に構成する
func (c *Controller) AttachOutputs(ctx context.Context, preview, sink Surface) error {
	if preview.Kind != SurfacePreview || sink.Kind != SurfaceFrameSink {
		return fmt.Errorf("%w: 出力面の種類が不正です", ErrConfigurationFailed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.outputs = []Surface{preview, sink}
	if !c.isOpenLocked() {
		return nil
	}
	return c.configureLocked(ctx)
}

// DetachOutputs は出力面が破棄されたときに呼ぶ。セッションを閉じ、デバイスはオープンのまま
func (c *Controller) DetachOutputs() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outputs = nil
	c.closeSessionLocked()
}

// configureLocked はセッションを1つだけ作成して繰り返しリクエストを発行する
func (c *Controller) configureLocked(ctx context.Context) error {
	c.closeSessionLocked()
	c.setState(StateSessionConfiguring)

	gen := c.bumpGeneration()
	outputs := append([]Surface(nil), c.outputs...)
	session, err := c.handle.CreateSession(ctx, outputs, c.completionFor(gen))
	if err != nil {
		c.setState(StateOpen)
		if !errors.Is(err, ErrConfigurationFailed) {
			err = fmt.Errorf("%w: %w", ErrConfigurationFailed, err)
		}
		return c.recordErr(err)
	}

	c.session = session
	c.sessionID = uuid.NewString()
	c.logger.Info("キャプチャセッションを構成しました", zap.String("session_id", c.sessionID))

	return c.recordErr(c.applyLocked())
}

func (c *Controller) closeSessionLocked() {
	if c.session == nil {
		return
	}

	c.bumpGeneration()
	if err := c.session.Close(); err != nil {
		c.logger.Warn("セッションのクローズに失敗", zap.Error(err))
	}
	c.logger.Debug("キャプチャセッションを閉じました", zap.String("session_id", c.sessionID))
	c.session = nil
	c.sessionID = ""

	if c.isOpenLocked() {
		c.setState(StateOpen)
	}
}

// ApplySettings は現在の設定で繰り返しリクエストを置き換える。
// セッションがなければ何もしない
func (c *Controller) ApplySettings() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}
	return c.applyLocked()
}

func (c *Controller) applyLocked() error {
	if c.session == nil {
		return nil
	}
	if err := c.session.SetRepeatingRequest(c.settings.Request()); err != nil {
		return fmt.Errorf("繰り返しリクエストの設定に失敗: %w", err)
	}
	c.setState(StateStreaming)
	return nil
}

// SetZoom はズーム倍率に factor を掛ける（[1.0, MaxZoom] に丸める）
func (c *Controller) SetZoom(factor float64) error {
	return c.mutate(func(s *CaptureSettings) bool {
		return s.ApplyZoom(factor, c.caps.MaxZoom)
	})
}

// Move はパンオフセットを (dx, dy) だけ動かす
func (c *Controller) Move(dx, dy int) error {
	return c.mutate(func(s *CaptureSettings) bool {
		return s.ApplyMove(dx, dy, c.caps.MaxOffset)
	})
}

// SetOffset はパンオフセットを置き換える
func (c *Controller) SetOffset(o Offset) error {
	return c.mutate(func(s *CaptureSettings) bool {
		return s.SetOffset(o, c.caps.MaxOffset)
	})
}

// Reset はズームとオフセットを初期値に戻す
func (c *Controller) Reset() error {
	return c.mutate(func(s *CaptureSettings) bool {
		s.Reset()
		return true
	})
}

// mutate は設定を変更し、変化があればセッションに反映する
func (c *Controller) mutate(fn func(*CaptureSettings) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpenLocked() {
		return ErrChannelClosed
	}
	if !fn(&c.settings) {
		return nil
	}
	return c.applyLocked()
}

// TriggerAutoFocus はAF開始フラグ付きの単発リクエストを発行する。
// 繰り返しリクエストはそのまま残る。AFがオフ、またはセッションがなければ何もしない
func (c *Controller) TriggerAutoFocus() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.settings.AFMode == AFModeOff {
		return nil
	}
	if err := c.session.Capture(c.settings.TriggerRequest()); err != nil {
		return fmt.Errorf("AFトリガーの発行に失敗: %w", err)
	}
	c.logger.Debug("AFをトリガーしました", zap.Stringer("af_mode", c.settings.AFMode))
	return nil
}

// SetTorch はライトを点灯/消灯する
func (c *Controller) SetTorch(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return ErrChannelClosed
	}
	t, ok := c.handle.(Torch)
	if !ok {
		return ErrTorchUnsupported
	}
	if err := t.SetTorchMode(on); err != nil {
		return fmt.Errorf("ライトの切り替えに失敗: %w", err)
	}
	c.torch = on
	return nil
}

// Torch は現在のライト状態を返す
func (c *Controller) Torch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.torch
}

// Close はセッション、デバイスの順に解放する。どの状態から呼んでもよく、冪等。
// 戻った時点以降にデバイスから届いたフレームは破棄される
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		return nil
	}

	c.bumpGeneration()

	var errs []error
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("セッションのクローズに失敗: %w", err))
		}
		c.session = nil
		c.sessionID = ""
	}
	if c.handle != nil {
		if err := c.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("デバイスのクローズに失敗: %w", err))
		}
		c.handle = nil
	}

	c.settings.Reset()
	c.torch = false
	stopCh, doneCh := c.stopCh, c.doneCh
	c.stopCh, c.doneCh = nil, nil
	c.setState(StateClosed)
	c.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}

	c.logger.Info("チャンネルをクローズしました")
	return errors.Join(errs...)
}

// Snapshot は最後に公開されたフレームのコピーを返す。Slot からは取り出さない
func (c *Controller) Snapshot() (*frame.Frame, bool) {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()

	if c.snapshot == nil {
		return nil, false
	}
	f := *c.snapshot
	f.Data = append([]byte(nil), c.snapshot.Data...)
	return &f, true
}

// Settings は現在の設定を返す
func (c *Controller) Settings() CaptureSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Info は状態情報を返す
func (c *Controller) Info() Info {
	c.mu.Lock()
	info := Info{
		Channel:      c.channel,
		State:        c.State(),
		SessionID:    c.sessionID,
		Capabilities: c.caps,
		Settings:     c.settings,
		Summary:      c.settings.Describe(),
		Torch:        c.torch,
	}
	if c.lastErr != nil {
		info.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	info.FramesCaptured = c.captured.Load()
	info.FramesStale = c.stale.Load()
	if f, ok := c.Snapshot(); ok {
		info.LastFrameAt = f.Timestamp
	}
	return info
}

func (c *Controller) recordErr(err error) error {
	if err != nil {
		c.lastErr = err
		c.logger.Warn("キャプチャ制御でエラーが発生", zap.Error(err))
	}
	return err
}

// bumpGeneration は世代を進め、以前のセッションからのフレームを無効にする。
// 実行中の完了コールバックが終わるまで待つ
func (c *Controller) bumpGeneration() uint64 {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.gen++
	return c.gen
}

func (c *Controller) currentGeneration() uint64 {
	c.pubMu.RLock()
	defer c.pubMu.RUnlock()
	return c.gen
}

func (c *Controller) completionFor(gen uint64) CompletionFunc {
	return func(r Result) {
		c.handleResult(gen, r)
	}
}

// handleResult はデバイスのコールバックから呼ばれる。Slot への書き込み以外でブロックしない
func (c *Controller) handleResult(gen uint64, r Result) {
	c.pubMu.RLock()
	defer c.pubMu.RUnlock()

	if gen != c.gen {
		c.stale.Add(1)
		return
	}

	if data := trimPadding(r.Frame); len(data) > 0 {
		f := &frame.Frame{
			Channel:   c.channel.Index,
			Seq:       c.seq.Add(1),
			Timestamp: time.Now(),
			Data:      append([]byte(nil), data...),
		}
		c.slot.Publish(f)
		c.captured.Add(1)

		c.snapMu.Lock()
		c.snapshot = f
		c.snapMu.Unlock()
	}

	if r.LaserPointOffset != nil {
		c.offerLaser(laserUpdate{gen: gen, offset: *r.LaserPointOffset})
	}
}

// offerLaser は最新の補正だけを残して受け渡す
func (c *Controller) offerLaser(u laserUpdate) {
	select {
	case c.laserCh <- u:
		return
	default:
	}
	select {
	case <-c.laserCh:
	default:
	}
	select {
	case c.laserCh <- u:
	default:
	}
}

func (c *Controller) refineLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case u := <-c.laserCh:
			c.applyLaserOffset(u)
		}
	}
}

// applyLaserOffset はレーザー点が中央に来るようオフセットを置き換える。
// 変化があった場合のみ繰り返しリクエストを発行し直す
func (c *Controller) applyLaserOffset(u laserUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || u.gen != c.currentGeneration() {
		return
	}
	if !c.settings.SetOffset(u.offset, c.caps.MaxOffset) {
		return
	}
	c.logger.Debug("レーザー補正でオフセットを更新", zap.Stringer("offset", *c.settings.Offset))
	if err := c.applyLocked(); err != nil {
		c.recordErr(err)
	}
}

// trimPadding はデバイスバッファ末尾のゼロ埋めを取り除く
func trimPadding(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}

func unavailable(channelID string, err error) error {
	if errors.Is(err, ErrDeviceUnavailable) {
		return fmt.Errorf("チャンネル %s: %w", channelID, err)
	}
	return fmt.Errorf("%w: チャンネル %s: %w", ErrDeviceUnavailable, channelID, err)
}
