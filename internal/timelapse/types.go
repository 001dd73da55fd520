package timelapse

import (
	"time"

	"github.com/jbravo94/glass-companion/internal/camera"
	"github.com/jbravo94/glass-companion/internal/frame"
)

// Source はタイムラプスが参照するフレームの取得元。
// Snapshot は Slot を消費しないコピーを返すこと
type Source interface {
	Channels() []camera.Channel
	Snapshot(index int) (*frame.Frame, bool)
}

// Config はタイムラプス設定
type Config struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`               // 有効/無効
	Interval      time.Duration `yaml:"interval" json:"interval"`             // 撮影間隔 (デフォルト: 2秒)
	OutputDir     string        `yaml:"output_dir" json:"output_dir"`         // 出力先
	RetentionDays int           `yaml:"retention_days" json:"retention_days"` // 保持期間（日数）、0以下なら削除しない
	Composite     bool          `yaml:"composite" json:"composite"`           // 全チャンネルを結合した画像も保存する
	Resolution    Resolution    `yaml:"resolution" json:"resolution"`         // 結合画像の解像度
	Quality       int           `yaml:"quality" json:"quality"`               // 結合画像のJPEG品質 (1-100)
}

// Resolution は解像度設定
type Resolution struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Status はタイムラプスの状態情報
type Status struct {
	Enabled     bool      `json:"enabled"`
	Running     bool      `json:"running"`
	OutputDir   string    `json:"output_dir"`
	FramesSaved uint64    `json:"frames_saved"`
	FilesPruned uint64    `json:"files_pruned"`
	LastCapture time.Time `json:"last_capture"`
	LastError   string    `json:"last_error,omitempty"`
}

// DefaultConfig はデフォルトのタイムラプス設定を返す
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Interval:      2 * time.Second,
		OutputDir:     "timelapse",
		RetentionDays: 7,
		Composite:     true,
		Resolution: Resolution{
			Width:  1280,
			Height: 480,
		},
		Quality: 85,
	}
}
