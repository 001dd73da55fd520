package camera

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/frame"
)

func TestSpoolDevice_ListChannels(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"side", "front"} {
		if err := os.Mkdir(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dev := NewSpoolDevice(root, zap.NewNop())
	ids, err := dev.ListChannels(context.Background())
	if err != nil {
		t.Fatalf("ListChannels failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "front" || ids[1] != "side" {
		t.Errorf("unexpected channels: %v", ids)
	}
}

func TestSpoolDevice_OpenInvalid(t *testing.T) {
	dev := NewSpoolDevice(t.TempDir(), zap.NewNop())

	for _, id := range []string{"", "..", "a/b", "missing"} {
		if _, err := dev.Open(context.Background(), id); !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("Open(%q): expected ErrDeviceUnavailable, got %v", id, err)
		}
	}
}

func TestSpoolDevice_DeliversCompleteJPEG(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "front")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	dev := NewSpoolDevice(root, zap.NewNop())
	c := NewController(Channel{Index: 0, ID: "front"}, dev, frame.NewSlot(), zap.NewNop())
	defer c.Close()

	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.AttachOutputs(ctx, Surface{Kind: SurfacePreview}, Surface{Kind: SurfaceFrameSink}); err != nil {
		t.Fatalf("AttachOutputs failed: %v", err)
	}

	// 書き込み途中のファイルは無視される
	partial := filepath.Join(dir, "partial.jpg")
	if err := os.WriteFile(partial, jpegSOI, 0o644); err != nil {
		t.Fatal(err)
	}

	// 末尾のNULパディングは除去される
	data := append(jpegBytes(1, 2, 3), 0, 0, 0)
	path := filepath.Join(dir, "0001.jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	var f *frame.Frame
	waitFor(t, 2*time.Second, func() bool {
		var ok bool
		f, ok = c.Slot().TakeLatest()
		return ok
	})
	if !bytes.Equal(f.Data, jpegBytes(1, 2, 3)) {
		t.Errorf("unexpected frame data: %x", f.Data)
	}

	waitFor(t, time.Second, func() bool {
		_, err := os.Stat(path)
		return errors.Is(err, os.ErrNotExist)
	})
	if _, err := os.Stat(partial); err != nil {
		t.Errorf("書き込み途中のファイルが削除されました: %v", err)
	}
}

func TestIsCompleteJPEG(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"complete", jpegBytes(1), true},
		{"nul padded", append(jpegBytes(1), 0, 0), true},
		{"missing EOI", append([]byte{}, jpegSOI...), false},
		{"missing SOI", append([]byte{1}, jpegEOI...), false},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCompleteJPEG(tt.data); got != tt.want {
				t.Errorf("isCompleteJPEG() = %v, want %v", got, tt.want)
			}
		})
	}
}
