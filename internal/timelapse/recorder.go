package timelapse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/frame"
)

const (
	compositeDir    = "composite"
	timestampLayout = "20060102-150405.000"
	cleanupInterval = time.Hour
)

// Recorder は各チャンネルのスナップショットを定期的にJPEGファイルとして保存する
type Recorder struct {
	source   Source
	config   Config
	composer *Composer
	logger   *zap.Logger

	// 制御用。running は撮影ゴルーチンの終了を確認するまで true のまま
	mu       sync.Mutex
	running  bool
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}

	// 状態
	statusMu    sync.RWMutex
	lastSeq     map[int]uint64
	framesSaved uint64
	filesPruned uint64
	lastCapture time.Time
	lastError   string
}

// NewRecorder は新しいRecorderを作成する
func NewRecorder(source Source, config Config, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		source:   source,
		config:   config,
		composer: NewComposer(config.Resolution.Width, config.Resolution.Height, config.Quality),
		logger:   logger.With(zap.String("component", "timelapse")),
		lastSeq:  make(map[int]uint64),
	}
}

// Start はタイムラプス撮影を開始する。無効なら何もしない
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.config.Enabled {
		r.logger.Info("タイムラプス機能は無効です")
		return nil
	}
	if r.running {
		if r.stopping {
			return errors.New("前回の撮影ゴルーチンがまだ停止していません")
		}
		return nil
	}

	// 出力ディレクトリを作成
	if err := os.MkdirAll(r.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}

	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx, r.stopCh, r.done)

	r.logger.Info("タイムラプス撮影を開始",
		zap.String("output_dir", r.config.OutputDir),
		zap.Duration("interval", r.config.Interval),
		zap.Int("channels", len(r.source.Channels())))
	return nil
}

// Stop はタイムラプス撮影を停止する。
// ctx が先に終わった場合は停止中のままエラーを返し、再度 Stop を呼べば待ち直す
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	if !r.stopping {
		close(r.stopCh)
		r.stopping = true
	}

	// ワーカーゴルーチンの終了を待機
	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("タイムラプスの停止待ちが中断されました: %w", ctx.Err())
	}
	r.running = false
	r.stopping = false

	r.logger.Info("タイムラプス撮影を停止")
	return nil
}

// Running は撮影中かを返す
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Recorder) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.prune(time.Now())
	lastCleanup := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case now := <-ticker.C:
			if _, err := r.CaptureOnce(now); err != nil {
				r.logger.Warn("タイムラプス撮影エラー", zap.Error(err))
			}
			if now.Sub(lastCleanup) >= cleanupInterval {
				r.prune(now)
				lastCleanup = now
			}
		}
	}
}

func (r *Recorder) prune(now time.Time) {
	if _, err := r.Cleanup(now); err != nil {
		r.logger.Warn("古いタイムラプス画像の削除に失敗", zap.Error(err))
	}
}

// CaptureOnce は全チャンネルのスナップショットを1回保存し、保存したファイル数を返す。
// 前回保存から更新されていないチャンネルは飛ばす
func (r *Recorder) CaptureOnce(now time.Time) (int, error) {
	stamp := now.Format(timestampLayout)

	var (
		frames []*frame.Frame
		errs   []error
		saved  int
	)
	for _, ch := range r.source.Channels() {
		f, ok := r.source.Snapshot(ch.Index)
		if !ok || !r.isNew(f) {
			continue
		}

		dir := filepath.Join(r.config.OutputDir, strconv.Itoa(ch.Index))
		if err := writeJPEG(dir, stamp, f.Data); err != nil {
			errs = append(errs, fmt.Errorf("チャンネル %d: %w", ch.Index, err))
			continue
		}
		r.markSaved(f)
		frames = append(frames, f)
		saved++
	}

	if r.config.Composite && len(frames) > 0 {
		data, err := r.composer.Compose(frames)
		if err == nil {
			err = writeJPEG(filepath.Join(r.config.OutputDir, compositeDir), stamp, data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("結合画像: %w", err))
		} else {
			saved++
		}
	}

	err := errors.Join(errs...)

	r.statusMu.Lock()
	r.framesSaved += uint64(saved)
	if saved > 0 {
		r.lastCapture = now
	}
	if err != nil {
		r.lastError = err.Error()
	}
	r.statusMu.Unlock()

	return saved, err
}

func (r *Recorder) isNew(f *frame.Frame) bool {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	last, ok := r.lastSeq[f.Channel]
	return !ok || f.Seq != last
}

func (r *Recorder) markSaved(f *frame.Frame) {
	r.statusMu.Lock()
	r.lastSeq[f.Channel] = f.Seq
	r.statusMu.Unlock()
}

func writeJPEG(dir, stamp string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ディレクトリの作成に失敗: %w", err)
	}
	path := filepath.Join(dir, stamp+".jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}
	return nil
}

// Cleanup は保持期間を過ぎたJPEGファイルを削除し、削除した数を返す
func (r *Recorder) Cleanup(now time.Time) (int, error) {
	if r.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-time.Duration(r.config.RetentionDays) * 24 * time.Hour)

	removed := 0
	err := filepath.WalkDir(r.config.OutputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jpg") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			removed++
		}
		return nil
	})

	r.statusMu.Lock()
	r.filesPruned += uint64(removed)
	r.statusMu.Unlock()

	if removed > 0 {
		r.logger.Info("古いタイムラプス画像を削除しました", zap.Int("files", removed))
	}
	return removed, err
}

// Status は現在の状態を返す
func (r *Recorder) Status() Status {
	running := r.Running()

	r.statusMu.RLock()
	defer r.statusMu.RUnlock()

	return Status{
		Enabled:     r.config.Enabled,
		Running:     running,
		OutputDir:   r.config.OutputDir,
		FramesSaved: r.framesSaved,
		FilesPruned: r.filesPruned,
		LastCapture: r.lastCapture,
		LastError:   r.lastError,
	}
}
