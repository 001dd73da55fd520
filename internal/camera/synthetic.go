package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// SyntheticOptions はテストパターンバックエンドの設定
type SyntheticOptions struct {
	Channels     []string     // チャンネルID
	Width        int          // 画像幅
	Height       int          // 画像高さ
	FPS          int          // フレームレート
	Quality      int          // JPEG品質 (1-100)
	Capabilities Capabilities // 全チャンネル共通の能力情報
	LaserPoint   Offset       // 画面中央から見たレーザー点の位置
}

// DefaultSyntheticOptions はデフォルト設定を返す
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		Channels: []string{"0", "1"},
		Width:    640,
		Height:   480,
		FPS:      15,
		Quality:  80,
		Capabilities: Capabilities{
			MaxZoom:   4,
			MaxOffset: Offset{X: 160, Y: 120},
			AFModes:   []AFMode{AFModeOff, AFModeAuto, AFModeLaserAssisted},
		},
		LaserPoint: Offset{X: 48, Y: -36},
	}
}

var colorBars = []color.NRGBA{
	{R: 192, G: 192, B: 192, A: 255},
	{R: 192, G: 192, B: 0, A: 255},
	{R: 0, G: 192, B: 192, A: 255},
	{R: 0, G: 192, B: 0, A: 255},
	{R: 192, G: 0, B: 192, A: 255},
	{R: 192, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 192, A: 255},
	{R: 16, G: 16, B: 16, A: 255},
}

// SyntheticDevice はカラーバーのテストパターンを生成するデバイス。
// ズームとオフセットを画像に反映し、レーザー補助AFの後にはレーザー点のオフセットを報告する
type SyntheticDevice struct {
	opts   SyntheticOptions
	logger *zap.Logger
}

// NewSyntheticDevice は新しいSyntheticDeviceを作成する
func NewSyntheticDevice(opts SyntheticOptions, logger *zap.Logger) *SyntheticDevice {
	def := DefaultSyntheticOptions()
	if len(opts.Channels) == 0 {
		opts.Channels = def.Channels
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = def.Width, def.Height
	}
	if opts.FPS <= 0 {
		opts.FPS = def.FPS
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	if opts.Capabilities.MaxZoom == 0 {
		opts.Capabilities = def.Capabilities
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SyntheticDevice{
		opts:   opts,
		logger: logger.With(zap.String("backend", "synthetic")),
	}
}

// ListChannels はチャンネルIDを返す
func (d *SyntheticDevice) ListChannels(_ context.Context) ([]string, error) {
	return append([]string(nil), d.opts.Channels...), nil
}

// Capabilities は設定された能力情報を返す
func (d *SyntheticDevice) Capabilities(_ context.Context, channelID string) (Capabilities, error) {
	if !d.hasChannel(channelID) {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrDeviceUnavailable, channelID)
	}
	return d.opts.Capabilities, nil
}

// Open はチャンネルをオープンする
func (d *SyntheticDevice) Open(_ context.Context, channelID string) (Handle, error) {
	if !d.hasChannel(channelID) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, channelID)
	}
	return &syntheticHandle{device: d, channelID: channelID}, nil
}

func (d *SyntheticDevice) hasChannel(id string) bool {
	for _, ch := range d.opts.Channels {
		if ch == id {
			return true
		}
	}
	return false
}

type syntheticHandle struct {
	device    *SyntheticDevice
	channelID string
	torch     atomic.Bool
	closed    atomic.Bool
}

func (h *syntheticHandle) CreateSession(_ context.Context, outputs []Surface, onComplete CompletionFunc) (Session, error) {
	if h.closed.Load() {
		return nil, errors.New("ハンドルはクローズ済みです")
	}
	if !hasSurface(outputs, SurfacePreview) || !hasSurface(outputs, SurfaceFrameSink) {
		return nil, fmt.Errorf("%w: 出力面が不足しています", ErrConfigurationFailed)
	}

	opts := h.device.opts
	for _, o := range outputs {
		if o.Kind == SurfaceFrameSink && o.Width > 0 && o.Height > 0 {
			opts.Width, opts.Height = o.Width, o.Height
		}
	}

	return &syntheticSession{
		handle:     h,
		opts:       opts,
		base:       renderPattern(opts.Width, opts.Height, opts.LaserPoint),
		onComplete: onComplete,
	}, nil
}

func (h *syntheticHandle) SetTorchMode(on bool) error {
	if h.closed.Load() {
		return errors.New("ハンドルはクローズ済みです")
	}
	h.torch.Store(on)
	return nil
}

func (h *syntheticHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type syntheticSession struct {
	handle     *syntheticHandle
	opts       SyntheticOptions
	base       *image.NRGBA
	onComplete CompletionFunc

	mu           sync.Mutex
	req          Request
	laserPending bool
	closed       bool
	stopCh       chan struct{}
	done         chan struct{}
	seq          uint64
}

func (s *syntheticSession) SetRepeatingRequest(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("セッションはクローズ済みです")
	}
	s.req = req
	if s.stopCh == nil {
		s.stopCh = make(chan struct{})
		s.done = make(chan struct{})
		go s.loop(s.stopCh, s.done)
	}
	return nil
}

func (s *syntheticSession) Capture(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("セッションはクローズ済みです")
	}
	if req.AFTrigger && req.AFMode == AFModeLaserAssisted {
		s.laserPending = true
	}
	return nil
}

func (s *syntheticSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-done
	}
	return nil
}

func (s *syntheticSession) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.emit()
		}
	}
}

func (s *syntheticSession) emit() {
	s.mu.Lock()
	req := s.req
	laser := s.laserPending
	s.laserPending = false
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	data, err := s.render(req, seq)
	if err != nil {
		s.handle.device.logger.Warn("テストパターンの生成に失敗", zap.Error(err))
		return
	}

	r := Result{Request: req, Frame: data}
	if laser {
		o := s.opts.LaserPoint
		r.LaserPointOffset = &o
	}
	s.onComplete(r)
}

// render は base からズームとオフセットに応じた領域を切り出してJPEGにする
func (s *syntheticSession) render(req Request, seq uint64) ([]byte, error) {
	w, h := s.opts.Width, s.opts.Height

	zoom := req.Zoom
	if zoom < 1 {
		zoom = 1
	}
	off := Offset{}
	if req.Offset != nil {
		off = *req.Offset
	}

	cw := max(int(float64(w)/zoom), 1)
	ch := max(int(float64(h)/zoom), 1)
	x0 := clampInt(w/2+off.X-cw/2, 0, w-cw)
	y0 := clampInt(h/2+off.Y-ch/2, 0, h-ch)

	img := imaging.Crop(s.base, image.Rect(x0, y0, x0+cw, y0+ch))
	if cw != w || ch != h {
		img = imaging.Resize(img, w, h, imaging.Linear)
	}
	if s.handle.torch.Load() {
		img = imaging.AdjustBrightness(img, 30)
	}

	// 動きが分かるようにフレームごとに位置が変わるマーカー
	marker := imaging.New(12, 12, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	img = imaging.Paste(img, marker, image.Pt(int(seq*6)%max(w-12, 1), h-20))

	stampText(img, 8, 16,
		fmt.Sprintf("channel %s  #%d", s.handle.channelID, seq),
		time.Now().Format("15:04:05.000"),
		fmt.Sprintf("zoom x%.2f  offset %s  af %s", zoom, off, req.AFMode),
	)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(s.opts.Quality)); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// renderPattern はカラーバー、グリッド、中央の十字、レーザー点を描いた基準画像を作る
func renderPattern(w, h int, laser Offset) *image.NRGBA {
	img := imaging.New(w, h, color.NRGBA{A: 255})

	barWidth := (w + len(colorBars) - 1) / len(colorBars)
	for i, c := range colorBars {
		bar := imaging.New(barWidth, h, c)
		img = imaging.Paste(img, bar, image.Pt(i*barWidth, 0))
	}

	gridColor := color.NRGBA{R: 40, G: 40, B: 40, A: 255}
	for x := 0; x < w; x += 40 {
		img = imaging.Paste(img, imaging.New(1, h, gridColor), image.Pt(x, 0))
	}
	for y := 0; y < h; y += 40 {
		img = imaging.Paste(img, imaging.New(w, 1, gridColor), image.Pt(0, y))
	}

	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	img = imaging.Paste(img, imaging.New(41, 3, white), image.Pt(w/2-20, h/2-1))
	img = imaging.Paste(img, imaging.New(3, 41, white), image.Pt(w/2-1, h/2-20))

	red := color.NRGBA{R: 255, A: 255}
	img = imaging.Paste(img, imaging.New(9, 9, red), image.Pt(w/2+laser.X-4, h/2+laser.Y-4))

	return img
}

// stampText は左上から1行ずつ文字を描く
func stampText(dst draw.Image, x, y int, lines ...string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		d.Dot = fixed.P(x, y+i*16)
		d.DrawString(line)
	}
}
