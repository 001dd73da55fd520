package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// V4L2Options はV4L2バックエンドの設定
type V4L2Options struct {
	Width   int     // キャプチャ幅
	Height  int     // キャプチャ高さ
	FPS     int     // フレームレート
	Quality int     // MJPEG品質 (ffmpeg -q:v, 2-31)
	MaxZoom float64 // デジタルズームの上限
}

// V4L2Device はUSBカメラなどのV4L2デバイスをffmpeg経由で扱う。
// ズームとオフセットはcropフィルタによるデジタル処理で、AFには対応しない
type V4L2Device struct {
	discovery Discovery
	opts      V4L2Options
	logger    *zap.Logger
}

// NewV4L2Device は新しいV4L2Deviceを作成する
func NewV4L2Device(discovery Discovery, opts V4L2Options, logger *zap.Logger) *V4L2Device {
	if discovery == nil {
		discovery = NewLinuxDiscovery()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxZoom < 1 {
		opts.MaxZoom = 1
	}
	return &V4L2Device{
		discovery: discovery,
		opts:      opts,
		logger:    logger.With(zap.String("backend", "v4l2")),
	}
}

// ListChannels は検出されたデバイスパスを返す
func (d *V4L2Device) ListChannels(ctx context.Context) ([]string, error) {
	return d.discovery.ScanDevices(ctx)
}

// Capabilities はデジタルズームの範囲を返す
func (d *V4L2Device) Capabilities(ctx context.Context, channelID string) (Capabilities, error) {
	if !d.discovery.IsDeviceAvailable(ctx, channelID) {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrDeviceUnavailable, channelID)
	}
	return Capabilities{
		MaxZoom:   d.opts.MaxZoom,
		MaxOffset: Offset{X: d.opts.Width / 2, Y: d.opts.Height / 2},
		AFModes:   []AFMode{AFModeOff},
	}, nil
}

// Open はデバイスをオープンする
func (d *V4L2Device) Open(ctx context.Context, channelID string) (Handle, error) {
	if !d.discovery.IsDeviceAvailable(ctx, channelID) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, channelID)
	}
	d.logger.Info("V4L2デバイスをオープンしました",
		zap.String("device", channelID),
		zap.String("name", d.discovery.DeviceName(ctx, channelID)))
	return &v4l2Handle{device: d, path: channelID}, nil
}

type v4l2Handle struct {
	device *V4L2Device
	path   string
}

func (h *v4l2Handle) CreateSession(_ context.Context, outputs []Surface, onComplete CompletionFunc) (Session, error) {
	if !hasSurface(outputs, SurfaceFrameSink) {
		return nil, fmt.Errorf("%w: フレームシンク面がありません", ErrConfigurationFailed)
	}

	opts := h.device.opts
	for _, o := range outputs {
		if o.Kind == SurfaceFrameSink && o.Width > 0 && o.Height > 0 {
			opts.Width, opts.Height = o.Width, o.Height
		}
	}

	return &v4l2Session{
		capturer:   NewFFmpegCapturer(h.path, opts.Width, opts.Height, opts.FPS, opts.Quality, h.device.logger),
		width:      opts.Width,
		height:     opts.Height,
		onComplete: onComplete,
		logger:     h.device.logger.With(zap.String("device", h.path)),
	}, nil
}

func (h *v4l2Handle) Close() error {
	return nil
}

// v4l2Session はffmpegプロセスを1つ保持する。フィルタが変わると起動し直す
type v4l2Session struct {
	capturer   *FFmpegCapturer
	width      int
	height     int
	onComplete CompletionFunc
	logger     *zap.Logger

	mu      sync.Mutex
	closed  bool
	running bool
	filter  string
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *v4l2Session) SetRepeatingRequest(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("セッションはクローズ済みです")
	}

	filter := cropFilter(s.width, s.height, req.Zoom, req.Offset)
	if s.running && filter == s.filter && !finished(s.done) {
		return nil
	}

	s.stopLocked()
	s.filter = filter

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.run(ctx, req, filter, s.done)
	return nil
}

func (s *v4l2Session) run(ctx context.Context, req Request, filter string, done chan struct{}) {
	defer close(done)

	s.logger.Debug("ffmpegストリームを開始", zap.String("filter", filter))
	err := s.capturer.Stream(ctx, filter, func(data []byte) {
		s.onComplete(Result{Request: req, Frame: data})
	})
	if err != nil {
		s.logger.Warn("ffmpegストリームが終了しました", zap.Error(err))
	}
}

// Capture はAF非対応のため何もしない
func (s *v4l2Session) Capture(Request) error {
	return nil
}

func (s *v4l2Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.closed = true
	return nil
}

func (s *v4l2Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.running = false
}

func finished(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
