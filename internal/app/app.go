// Package app はカメラ、配信サーバー、タイムラプスを組み立てて起動する
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/camera"
	"github.com/jbravo94/glass-companion/internal/config"
	"github.com/jbravo94/glass-companion/internal/server"
	"github.com/jbravo94/glass-companion/internal/timelapse"
)

// App はアプリケーション全体
type App struct {
	config   *config.Config
	logger   *zap.Logger
	device   camera.Device
	manager  *camera.Manager
	server   *server.Server
	recorder *timelapse.Recorder
}

// New は設定のバックエンドからデバイスを作成してAppを組み立てる
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	device, err := NewDevice(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithDevice(ctx, cfg, device, logger)
}

// NewDevice は設定のバックエンドからデバイスを作成する
func NewDevice(cfg *config.Config, logger *zap.Logger) (camera.Device, error) {
	bc, err := cfg.BackendConfig()
	if err != nil {
		return nil, err
	}
	bc.Logger = logger

	device, err := camera.NewDeviceFactory().Create(cfg.Camera.Backend, bc)
	if err != nil {
		return nil, fmt.Errorf("カメラデバイスの作成に失敗: %w", err)
	}
	return device, nil
}

// NewWithDevice は指定したデバイスでAppを組み立てる
func NewWithDevice(ctx context.Context, cfg *config.Config, device camera.Device, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	channels, err := ResolveChannels(ctx, cfg, device)
	if err != nil {
		return nil, err
	}

	manager := camera.NewManager(device, channels, logger)
	recorder := timelapse.NewRecorder(manager, cfg.Timelapse, logger)
	srv := server.New(cfg, manager, logger, server.WithTimelapse(recorder))

	return &App{
		config:   cfg,
		logger:   logger.With(zap.String("component", "app")),
		device:   device,
		manager:  manager,
		server:   srv,
		recorder: recorder,
	}, nil
}

// ResolveChannels は設定のチャンネルを返す。設定が空ならデバイスが報告するチャンネルを使う
func ResolveChannels(ctx context.Context, cfg *config.Config, device camera.Device) ([]camera.Channel, error) {
	var discovered []string
	if len(cfg.Camera.Channels) == 0 {
		ids, err := device.ListChannels(ctx)
		if err != nil {
			return nil, fmt.Errorf("チャンネルの検出に失敗: %w", err)
		}
		discovered = ids
	}

	channels := cfg.ResolveChannels(discovered)
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: 利用可能なカメラがありません", camera.ErrDeviceUnavailable)
	}
	return channels, nil
}

// Manager はカメラマネージャーを返す
func (a *App) Manager() *camera.Manager {
	return a.manager
}

// Server は配信サーバーを返す
func (a *App) Server() *server.Server {
	return a.server
}

// Recorder はタイムラプスを返す
func (a *App) Recorder() *timelapse.Recorder {
	return a.recorder
}

// Run はカメラ、サーバー、タイムラプスを開始し、ctx が終わるまで待ってから停止する。
// チャンネルの失敗は記録して続行し、ポートを確保できなければエラーを返す
func (a *App) Run(ctx context.Context) error {
	if err := a.manager.Start(ctx); err != nil {
		a.logger.Warn("一部のチャンネルを開始できませんでした", zap.Error(err))
	}

	if err := a.server.Start(); err != nil {
		stopErr := a.manager.Stop(context.Background())
		return errors.Join(fmt.Errorf("サーバーの起動に失敗しました: %w", err), stopErr)
	}

	if err := a.recorder.Start(ctx); err != nil {
		a.logger.Warn("タイムラプスを開始できませんでした", zap.Error(err))
	}

	a.logger.Info("起動しました",
		zap.String("addr", a.server.Addr()),
		zap.String("backend", a.config.Camera.Backend),
		zap.Int("channels", len(a.manager.Channels())))

	<-ctx.Done()
	a.logger.Info("停止します")
	return a.Shutdown()
}

// Shutdown はサーバー、タイムラプス、カメラの順に停止する
func (a *App) Shutdown() error {
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.recorder.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.manager.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ChannelReport はチャンネル一覧コマンドの1行
type ChannelReport struct {
	Channel      camera.Channel
	Capabilities camera.Capabilities
	AFMode       camera.AFMode
	Err          error
}

// Describe は各チャンネルの能力情報を調べる。オープンはしない
func Describe(ctx context.Context, cfg *config.Config, device camera.Device) ([]ChannelReport, error) {
	channels, err := ResolveChannels(ctx, cfg, device)
	if err != nil {
		return nil, err
	}

	reports := make([]ChannelReport, 0, len(channels))
	for _, ch := range channels {
		caps, err := device.Capabilities(ctx, ch.ID)
		reports = append(reports, ChannelReport{
			Channel:      ch,
			Capabilities: caps,
			AFMode:       camera.SelectAFMode(caps.AFModes),
			Err:          err,
		})
	}
	return reports, nil
}
