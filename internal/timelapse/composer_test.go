package timelapse

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/jbravo94/glass-companion/internal/frame"
)

func TestComposer_CalculateLayout(t *testing.T) {
	c := NewComposer(1200, 600, 80)

	tests := []struct {
		frames     int
		cols, rows int
	}{
		{1, 1, 1},
		{2, 2, 1},
		{3, 2, 2},
		{4, 2, 2},
		{5, 4, 2},
	}

	for _, tt := range tests {
		l := c.calculateLayout(tt.frames)
		if l.cols != tt.cols || l.rows != tt.rows {
			t.Errorf("calculateLayout(%d) = %dx%d, want %dx%d", tt.frames, l.cols, l.rows, tt.cols, tt.rows)
		}
		if l.cellWidth != 1200/tt.cols || l.cellHeight != 600/tt.rows {
			t.Errorf("calculateLayout(%d) cell = %dx%d", tt.frames, l.cellWidth, l.cellHeight)
		}
	}
}

func TestComposer_Compose(t *testing.T) {
	c := NewComposer(64, 24, 90)

	frames := []*frame.Frame{
		{Channel: 1, Data: testJPEG(t, 32, 24, color.NRGBA{B: 255, A: 255})},
		{Channel: 0, Data: testJPEG(t, 32, 24, color.NRGBA{R: 255, A: 255})},
	}

	data, err := c.Compose(frames)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("結合画像がデコードできません: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 24 {
		t.Fatalf("Expected 64x24, got %dx%d", b.Dx(), b.Dy())
	}

	// チャンネル0が左、チャンネル1が右
	r, _, b, _ := img.At(8, 12).RGBA()
	if r < b {
		t.Error("左側がチャンネル0(赤)になっていません")
	}
	r, _, b, _ = img.At(56, 12).RGBA()
	if b < r {
		t.Error("右側がチャンネル1(青)になっていません")
	}
}

func TestComposer_NoValidFrames(t *testing.T) {
	c := NewComposer(64, 24, 90)

	if _, err := c.Compose(nil); err == nil {
		t.Error("Expected error for empty input")
	}
	if _, err := c.Compose([]*frame.Frame{{Channel: 0, Data: []byte{1, 2, 3}}}); err == nil {
		t.Error("Expected error for undecodable frames")
	}
}
