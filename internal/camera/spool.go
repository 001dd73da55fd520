package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// SpoolDevice は外部のキャプチャツールが書き出すJPEGファイルをフレームとして扱う。
// チャンネルごとに <root>/<channelID>/ を監視し、完全なJPEGが書かれたら読み込んで削除する。
// ズームとAFには対応しない
type SpoolDevice struct {
	root   string
	logger *zap.Logger
}

// NewSpoolDevice は新しいSpoolDeviceを作成する
func NewSpoolDevice(root string, logger *zap.Logger) *SpoolDevice {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpoolDevice{
		root:   root,
		logger: logger.With(zap.String("backend", "spool"), zap.String("root", root)),
	}
}

// ListChannels はルート直下のディレクトリ名を返す
func (d *SpoolDevice) ListChannels(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("スプールディレクトリの読み込みに失敗: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Capabilities はズームなし、AFなしを返す
func (d *SpoolDevice) Capabilities(_ context.Context, channelID string) (Capabilities, error) {
	if _, err := d.channelDir(channelID); err != nil {
		return Capabilities{}, err
	}
	return Capabilities{MaxZoom: 1, AFModes: []AFMode{AFModeOff}}, nil
}

// Open はチャンネルのディレクトリを確認する
func (d *SpoolDevice) Open(_ context.Context, channelID string) (Handle, error) {
	dir, err := d.channelDir(channelID)
	if err != nil {
		return nil, err
	}
	return &spoolHandle{device: d, dir: dir}, nil
}

func (d *SpoolDevice) channelDir(channelID string) (string, error) {
	if channelID == "" || strings.ContainsAny(channelID, `/\`) || channelID == ".." {
		return "", fmt.Errorf("%w: 不正なチャンネルID %q", ErrDeviceUnavailable, channelID)
	}
	dir := filepath.Join(d.root, channelID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrDeviceUnavailable, dir)
	}
	return dir, nil
}

type spoolHandle struct {
	device *SpoolDevice
	dir    string
}

func (h *spoolHandle) CreateSession(_ context.Context, outputs []Surface, onComplete CompletionFunc) (Session, error) {
	if !hasSurface(outputs, SurfaceFrameSink) {
		return nil, fmt.Errorf("%w: フレームシンク面がありません", ErrConfigurationFailed)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ファイル監視の作成に失敗: %w", err)
	}
	if err := watcher.Add(h.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("%w: ディレクトリの監視に失敗: %w", ErrConfigurationFailed, err)
	}

	s := &spoolSession{
		watcher:    watcher,
		onComplete: onComplete,
		logger:     h.device.logger.With(zap.String("dir", h.dir)),
		done:       make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

func (h *spoolHandle) Close() error {
	return nil
}

type spoolSession struct {
	watcher    *fsnotify.Watcher
	onComplete CompletionFunc
	logger     *zap.Logger
	done       chan struct{}

	mu        sync.Mutex
	req       Request
	streaming bool
	closed    bool
}

func (s *spoolSession) SetRepeatingRequest(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("セッションはクローズ済みです")
	}
	s.req = req
	s.streaming = true
	return nil
}

// Capture はAF非対応のため何もしない
func (s *spoolSession) Capture(Request) error {
	return nil
}

func (s *spoolSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.watcher.Close()
	<-s.done
	return err
}

func (s *spoolSession) watch() {
	defer close(s.done)

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".jpg") {
				continue
			}
			s.consume(ev.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("ファイル監視でエラーが発生", zap.Error(err))
		}
	}
}

// consume は完全なJPEGならフレームとして届けてファイルを削除する。
// 書き込み途中なら次のイベントを待つ
func (s *spoolSession) consume(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("ファイルの読み込みに失敗", zap.String("file", path), zap.Error(err))
		}
		return
	}
	if !isCompleteJPEG(data) {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("ファイルの削除に失敗", zap.String("file", path), zap.Error(err))
	}

	s.mu.Lock()
	req, streaming := s.req, s.streaming
	s.mu.Unlock()

	if streaming {
		s.onComplete(Result{Request: req, Frame: data})
	}
}

func isCompleteJPEG(data []byte) bool {
	data = bytes.TrimRight(data, "\x00")
	return bytes.HasPrefix(data, jpegSOI) && bytes.HasSuffix(data, jpegEOI)
}
