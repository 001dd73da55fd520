package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbravo94/glass-companion/internal/camera"
	"github.com/jbravo94/glass-companion/internal/logging"
	"github.com/jbravo94/glass-companion/internal/timelapse"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Stream    StreamConfig     `yaml:"stream"`
	Camera    CameraConfig     `yaml:"camera"`
	Timelapse timelapse.Config `yaml:"timelapse"`
	Log       LogConfig        `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 停止時の待ち時間

	AllowedOrigins []string `yaml:"allowed_origins"` // CORSで許可するオリジン
}

// StreamConfig はMJPEGストリームの設定
type StreamConfig struct {
	Boundary      string        `yaml:"boundary"`       // multipartの境界文字列
	PollInterval  time.Duration `yaml:"poll_interval"`  // フレームがないときの待ち時間
	FrameInterval time.Duration `yaml:"frame_interval"` // フレーム送信後の待ち時間
	WebSocket     bool          `yaml:"websocket"`      // /ws{N} を有効にする
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend string `yaml:"backend"` // synthetic, spool, v4l2

	// 空ならバックエンドが報告する全チャンネルを使う
	Channels []ChannelConfig `yaml:"channels"`

	// デフォルト設定
	Width    int    `yaml:"width"`     // 画像幅
	Height   int    `yaml:"height"`    // 画像高さ
	FPS      int    `yaml:"fps"`       // フレームレート (fps)
	Quality  int    `yaml:"quality"`   // JPEG品質 (1-100)
	SpoolDir string `yaml:"spool_dir"` // spool バックエンドの監視ルート

	// synthetic バックエンドの能力情報
	MaxZoom    float64  `yaml:"max_zoom"`
	MaxOffsetX int      `yaml:"max_offset_x"`
	MaxOffsetY int      `yaml:"max_offset_y"`
	AFModes    []string `yaml:"af_modes"`
}

// ChannelConfig は個別チャンネルの設定
type ChannelConfig struct {
	Index  int    `yaml:"index"`  // URLで使うチャンネル番号 (/stream{index})
	Name   string `yaml:"name"`   // 表示名
	Device string `yaml:"device"` // バックエンドでのチャンネルID (例: /dev/video0)

	// チャンネル固有の設定（デフォルト値より優先）
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error
	Development bool   `yaml:"development"` // コンソール形式で出力する
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Stream: StreamConfig{
			Boundary:      "boundary",
			PollInterval:  10 * time.Millisecond,
			FrameInterval: 100 * time.Millisecond,
			WebSocket:     true,
		},
		Camera: CameraConfig{
			Backend: camera.BackendSynthetic,
			Width:   640,
			Height:  480,
			FPS:     15,
			Quality: 80,
			MaxZoom: 4,
		},
		Timelapse: timelapse.DefaultConfig(),
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む。
// デフォルト値、YAMLファイル (path が空でなければ)、環境変数の順に上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Backend = getEnvOrDefault("CAMERA_BACKEND", c.Camera.Backend)
	c.Camera.SpoolDir = getEnvOrDefault("SPOOL_DIR", c.Camera.SpoolDir)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	// ストリーム設定の検証
	if err := validateBoundary(c.Stream.Boundary); err != nil {
		errs = append(errs, err)
	}
	if c.Stream.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("ポーリング間隔は正の値である必要があります: %s", c.Stream.PollInterval))
	}
	if c.Stream.FrameInterval <= 0 {
		errs = append(errs, fmt.Errorf("フレーム間隔は正の値である必要があります: %s", c.Stream.FrameInterval))
	}

	// カメラ設定の検証
	switch c.Camera.Backend {
	case camera.BackendSynthetic, camera.BackendV4L2:
	case camera.BackendSpool:
		if c.Camera.SpoolDir == "" {
			errs = append(errs, errors.New("spool バックエンドには spool_dir が必要です"))
		}
	default:
		errs = append(errs, fmt.Errorf("不明なバックエンド: %q", c.Camera.Backend))
	}
	if c.Camera.Quality < 1 || c.Camera.Quality > 100 {
		errs = append(errs, fmt.Errorf("JPEG品質は1-100の範囲で指定してください: %d", c.Camera.Quality))
	}
	for _, mode := range c.Camera.AFModes {
		if _, err := camera.ParseAFMode(mode); err != nil {
			errs = append(errs, err)
		}
	}
	seen := make(map[int]bool, len(c.Camera.Channels))
	for _, ch := range c.Camera.Channels {
		if ch.Index < 0 {
			errs = append(errs, fmt.Errorf("無効なチャンネル番号: %d", ch.Index))
		}
		if seen[ch.Index] {
			errs = append(errs, fmt.Errorf("チャンネル番号が重複しています: %d", ch.Index))
		}
		seen[ch.Index] = true
	}

	// タイムラプス設定の検証
	if c.Timelapse.Enabled {
		if c.Timelapse.Interval <= 0 {
			errs = append(errs, fmt.Errorf("タイムラプス間隔は正の値である必要があります: %s", c.Timelapse.Interval))
		}
		if c.Timelapse.OutputDir == "" {
			errs = append(errs, errors.New("タイムラプスの出力ディレクトリが設定されていません"))
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BackendConfig はデバイス作成用の設定を返す
func (c *Config) BackendConfig() (camera.BackendConfig, error) {
	bc := camera.BackendConfig{
		Width:     c.Camera.Width,
		Height:    c.Camera.Height,
		FPS:       c.Camera.FPS,
		Quality:   c.Camera.Quality,
		MaxZoom:   c.Camera.MaxZoom,
		MaxOffset: camera.Offset{X: c.Camera.MaxOffsetX, Y: c.Camera.MaxOffsetY},
		SpoolDir:  c.Camera.SpoolDir,
	}
	for _, ch := range c.Camera.Channels {
		bc.ChannelIDs = append(bc.ChannelIDs, ch.Device)
	}
	for _, s := range c.Camera.AFModes {
		mode, err := camera.ParseAFMode(s)
		if err != nil {
			return camera.BackendConfig{}, err
		}
		bc.AFModes = append(bc.AFModes, mode)
	}
	return bc, nil
}

// ResolveChannels は設定されたチャンネルを camera.Channel に変換する。
// 設定が空なら discovered (バックエンドが報告したID) を順に 0, 1, ... に割り当てる
func (c *Config) ResolveChannels(discovered []string) []camera.Channel {
	var channels []camera.Channel

	if len(c.Camera.Channels) == 0 {
		for i, id := range discovered {
			channels = append(channels, camera.Channel{
				Index:  i,
				ID:     id,
				Name:   DefaultChannelName(i),
				Width:  c.Camera.Width,
				Height: c.Camera.Height,
			})
		}
		return channels
	}

	for _, ch := range c.Camera.Channels {
		resolved := camera.Channel{
			Index:  ch.Index,
			ID:     ch.Device,
			Name:   ch.Name,
			Width:  c.Camera.Width,
			Height: c.Camera.Height,
		}
		if resolved.ID == "" {
			resolved.ID = strconv.Itoa(ch.Index)
		}
		if resolved.Name == "" {
			resolved.Name = DefaultChannelName(ch.Index)
		}
		if ch.Width > 0 && ch.Height > 0 {
			resolved.Width, resolved.Height = ch.Width, ch.Height
		}
		channels = append(channels, resolved)
	}
	return channels
}

// DefaultChannelName はチャンネル番号から表示名を決める
func DefaultChannelName(index int) string {
	switch index {
	case 0:
		return "Front Camera"
	case 1:
		return "Side Camera"
	default:
		return fmt.Sprintf("Camera %d", index)
	}
}

// bchars は RFC 2046 で境界文字列に使える文字
const bchars = "0123456789" +
	"abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"'()+_,-./:=? "

func validateBoundary(b string) error {
	if b == "" || len(b) > 70 {
		return fmt.Errorf("境界文字列は1-70文字で指定してください: %q", b)
	}
	if strings.HasSuffix(b, " ") {
		return fmt.Errorf("境界文字列の末尾に空白は使えません: %q", b)
	}
	for _, r := range b {
		if !strings.ContainsRune(bchars, r) {
			return fmt.Errorf("境界文字列に使えない文字が含まれています: %q", b)
		}
	}
	return nil
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
