package camera

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/frame"
)

func newSyntheticController(t *testing.T) (*Controller, *SyntheticDevice) {
	t.Helper()
	opts := DefaultSyntheticOptions()
	opts.Channels = []string{"front"}
	opts.Width, opts.Height = 96, 64
	opts.FPS = 50
	opts.Capabilities.MaxOffset = Offset{X: 24, Y: 16}
	opts.LaserPoint = Offset{X: 8, Y: -6}

	dev := NewSyntheticDevice(opts, zap.NewNop())
	c := NewController(Channel{Index: 0, ID: "front", Name: "Front Camera"}, dev, frame.NewSlot(), zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	sink := Surface{Kind: SurfaceFrameSink, Width: 96, Height: 64}
	if err := c.AttachOutputs(ctx, Surface{Kind: SurfacePreview}, sink); err != nil {
		t.Fatalf("AttachOutputs failed: %v", err)
	}
	return c, dev
}

func TestSyntheticDevice_UnknownChannel(t *testing.T) {
	dev := NewSyntheticDevice(SyntheticOptions{}, nil)

	if _, err := dev.Open(context.Background(), "nope"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if _, err := dev.Capabilities(context.Background(), "nope"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}

	ids, err := dev.ListChannels(context.Background())
	if err != nil || len(ids) != 2 {
		t.Errorf("Expected default channels, got %v (%v)", ids, err)
	}
}

func TestSyntheticDevice_RequiresBothSurfaces(t *testing.T) {
	dev := NewSyntheticDevice(DefaultSyntheticOptions(), nil)
	h, err := dev.Open(context.Background(), "0")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()

	_, err = h.CreateSession(context.Background(), []Surface{{Kind: SurfaceFrameSink}}, func(Result) {})
	if !errors.Is(err, ErrConfigurationFailed) {
		t.Errorf("Expected ErrConfigurationFailed, got %v", err)
	}
}

func TestSyntheticDevice_StreamsJPEG(t *testing.T) {
	c, _ := newSyntheticController(t)

	var f *frame.Frame
	waitFor(t, 2*time.Second, func() bool {
		var ok bool
		f, ok = c.Slot().TakeLatest()
		return ok
	})

	img, err := imaging.Decode(bytes.NewReader(f.Data))
	if err != nil {
		t.Fatalf("フレームがJPEGとしてデコードできません: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 96 || b.Dy() != 64 {
		t.Errorf("Expected 96x64, got %dx%d", b.Dx(), b.Dy())
	}

	// ズームしてもサイズは変わらない
	if err := c.SetZoom(2); err != nil {
		t.Fatalf("SetZoom failed: %v", err)
	}
	_, _ = c.Slot().TakeLatest()
	waitFor(t, 2*time.Second, func() bool {
		var ok bool
		f, ok = c.Slot().TakeLatest()
		return ok
	})
	img, err = imaging.Decode(bytes.NewReader(f.Data))
	if err != nil {
		t.Fatalf("ズーム後のフレームがデコードできません: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 96 || b.Dy() != 64 {
		t.Errorf("Expected 96x64 after zoom, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestSyntheticDevice_ZoomBeyondFrameSize(t *testing.T) {
	ctx := context.Background()
	opts := DefaultSyntheticOptions()
	opts.Width, opts.Height = 96, 64
	opts.Capabilities.MaxZoom = 500
	dev := NewSyntheticDevice(opts, zap.NewNop())

	h, err := dev.Open(ctx, "0")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()
	sess, err := h.CreateSession(ctx, []Surface{{Kind: SurfacePreview}, {Kind: SurfaceFrameSink}}, func(Result) {})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	defer sess.Close()

	for _, zoom := range []float64{96, 200, 500} {
		data, err := sess.(*syntheticSession).render(Request{Zoom: zoom}, 1)
		if err != nil {
			t.Fatalf("zoom %v: 描画に失敗: %v", zoom, err)
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("zoom %v: デコードに失敗: %v", zoom, err)
		}
		if b := img.Bounds(); b.Dx() != 96 || b.Dy() != 64 {
			t.Errorf("zoom %v: Expected 96x64, got %dx%d", zoom, b.Dx(), b.Dy())
		}
	}
}

func TestSyntheticDevice_LaserAssistedFocus(t *testing.T) {
	c, _ := newSyntheticController(t)

	if got := c.Settings().AFMode; got != AFModeLaserAssisted {
		t.Fatalf("Expected laser-assisted AF, got %s", got)
	}
	if err := c.TriggerAutoFocus(); err != nil {
		t.Fatalf("TriggerAutoFocus failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		o := c.Settings().Offset
		return o != nil && *o == (Offset{X: 8, Y: -6})
	})
}

func TestSyntheticDevice_Torch(t *testing.T) {
	c, _ := newSyntheticController(t)

	if err := c.SetTorch(true); err != nil {
		t.Fatalf("SetTorch failed: %v", err)
	}
	if !c.Torch() {
		t.Error("Expected torch on")
	}
}
