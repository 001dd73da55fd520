package camera

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// バックエンド名
const (
	BackendSynthetic = "synthetic"
	BackendSpool     = "spool"
	BackendV4L2      = "v4l2"
)

// BackendConfig はデバイス作成設定
type BackendConfig struct {
	ChannelIDs []string // synthetic で生成するチャンネルID
	Width      int      // 画像幅
	Height     int      // 画像高さ
	FPS        int      // フレームレート
	Quality    int      // JPEG品質 (1-100)
	MaxZoom    float64  // 最大ズーム倍率
	MaxOffset  Offset   // 最大オフセット
	AFModes    []AFMode // synthetic が報告するAFモード
	SpoolDir   string   // spool の監視ルート
	Logger     *zap.Logger
}

// DeviceCreator はデバイス作成関数の型
type DeviceCreator func(cfg BackendConfig) (Device, error)

// DeviceFactory はバックエンド名からデバイスを作成する
type DeviceFactory struct {
	creators map[string]DeviceCreator
}

// NewDeviceFactory は標準のバックエンドを登録したファクトリーを作成する
func NewDeviceFactory() *DeviceFactory {
	f := &DeviceFactory{creators: make(map[string]DeviceCreator)}

	f.Register(BackendSynthetic, newSyntheticFromConfig)
	f.Register(BackendSpool, newSpoolFromConfig)
	f.Register(BackendV4L2, newV4L2FromConfig)

	return f
}

// Register はデバイス作成関数を登録する
func (f *DeviceFactory) Register(name string, creator DeviceCreator) {
	f.creators[name] = creator
}

// Create はデバイスを作成する
func (f *DeviceFactory) Create(name string, cfg BackendConfig) (Device, error) {
	creator, exists := f.creators[name]
	if !exists {
		return nil, fmt.Errorf("サポートされていないバックエンド: %s", name)
	}
	return creator(cfg)
}

// SupportedBackends は登録済みのバックエンド名を返す
func (f *DeviceFactory) SupportedBackends() []string {
	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newSyntheticFromConfig(cfg BackendConfig) (Device, error) {
	opts := DefaultSyntheticOptions()
	if len(cfg.ChannelIDs) > 0 {
		opts.Channels = cfg.ChannelIDs
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		opts.Width, opts.Height = cfg.Width, cfg.Height
		opts.Capabilities.MaxOffset = Offset{X: cfg.Width / 4, Y: cfg.Height / 4}
	}
	if cfg.FPS > 0 {
		opts.FPS = cfg.FPS
	}
	if cfg.Quality > 0 {
		opts.Quality = cfg.Quality
	}
	if cfg.MaxZoom > 0 {
		opts.Capabilities.MaxZoom = cfg.MaxZoom
	}
	if cfg.MaxOffset != (Offset{}) {
		opts.Capabilities.MaxOffset = cfg.MaxOffset
	}
	if len(cfg.AFModes) > 0 {
		opts.Capabilities.AFModes = cfg.AFModes
	}
	return NewSyntheticDevice(opts, cfg.Logger), nil
}

func newSpoolFromConfig(cfg BackendConfig) (Device, error) {
	if cfg.SpoolDir == "" {
		return nil, fmt.Errorf("spool バックエンドにはスプールディレクトリが必要です")
	}
	return NewSpoolDevice(cfg.SpoolDir, cfg.Logger), nil
}

func newV4L2FromConfig(cfg BackendConfig) (Device, error) {
	opts := V4L2Options{
		Width:   cfg.Width,
		Height:  cfg.Height,
		FPS:     cfg.FPS,
		Quality: jpegQualityToQScale(cfg.Quality),
		MaxZoom: cfg.MaxZoom,
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 640, 480
	}
	if opts.FPS <= 0 {
		opts.FPS = 15
	}
	return NewV4L2Device(NewLinuxDiscovery(), opts, cfg.Logger), nil
}

// jpegQualityToQScale は 1-100 のJPEG品質をffmpegの -q:v (2が最高、31が最低) に変換する
func jpegQualityToQScale(quality int) int {
	if quality <= 0 {
		return 3
	}
	q := 31 - (quality*29)/100
	return clampInt(q, 2, 31)
}
