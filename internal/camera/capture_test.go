package camera

import (
	"bytes"
	"slices"
	"strings"
	"testing"
)

func jpegBytes(payload ...byte) []byte {
	out := append([]byte{}, jpegSOI...)
	out = append(out, payload...)
	return append(out, jpegEOI...)
}

func TestJPEGSplitter_Feed(t *testing.T) {
	a := jpegBytes(1, 2, 3)
	b := jpegBytes(4, 5)

	tests := []struct {
		name   string
		chunks [][]byte
		want   [][]byte
	}{
		{
			name:   "single frame",
			chunks: [][]byte{a},
			want:   [][]byte{a},
		},
		{
			name:   "two frames in one chunk",
			chunks: [][]byte{append(append([]byte{}, a...), b...)},
			want:   [][]byte{a, b},
		},
		{
			name:   "frame split across chunks",
			chunks: [][]byte{a[:3], a[3:]},
			want:   [][]byte{a},
		},
		{
			name:   "SOI split across chunks",
			chunks: [][]byte{{0x00, 0x11, 0xFF}, a[1:]},
			want:   [][]byte{a},
		},
		{
			name:   "garbage before frame",
			chunks: [][]byte{append([]byte{0x01, 0x02, 0x03}, b...)},
			want:   [][]byte{b},
		},
		{
			name:   "incomplete frame",
			chunks: [][]byte{a[:len(a)-1]},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s jpegSplitter
			var got [][]byte
			for _, c := range tt.chunks {
				got = append(got, s.Feed(c)...)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d frames, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("frame %d = %x, want %x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestReadJPEGStream(t *testing.T) {
	a := jpegBytes(9, 9)
	b := jpegBytes(8)
	r := bytes.NewReader(append(append([]byte{}, a...), b...))

	var frames [][]byte
	if err := readJPEGStream(r, func(f []byte) { frames = append(frames, f) }); err != nil {
		t.Fatalf("readJPEGStream failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[1], b) {
		t.Errorf("second frame = %x, want %x", frames[1], b)
	}
}

func TestCropFilter(t *testing.T) {
	tests := []struct {
		name   string
		zoom   float64
		offset *Offset
		want   string
	}{
		{"no transform", 1, nil, ""},
		{"zoom below one", 0.5, nil, ""},
		{"zoom 2 centered", 2, nil, "crop=320:240:160:120,scale=640:480"},
		{"zoom 2 with offset", 2, &Offset{X: 40, Y: -20}, "crop=320:240:200:100,scale=640:480"},
		{"offset clamped to frame", 2, &Offset{X: 1000, Y: 1000}, "crop=320:240:320:240,scale=640:480"},
		{"offset without zoom", 1, &Offset{X: 10}, "crop=640:480:0:0,scale=640:480"},
		{"zoom beyond frame size", 1000, nil, "crop=2:2:319:239,scale=640:480"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cropFilter(640, 480, tt.zoom, tt.offset); got != tt.want {
				t.Errorf("cropFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFFmpegCapturer_Args(t *testing.T) {
	c := NewFFmpegCapturer("/dev/video0", 640, 480, 15, 5, nil)

	args := c.args("")
	if slices.Contains(args, "-vf") {
		t.Error("フィルタなしで -vf が指定されています")
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"-i /dev/video0", "-video_size 640x480", "-r 15", "-q:v 5", "image2pipe"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args に %q が含まれていません: %s", want, joined)
		}
	}

	args = c.args("crop=320:240:160:120,scale=640:480")
	if i := slices.Index(args, "-vf"); i == -1 || args[i+1] != "crop=320:240:160:120,scale=640:480" {
		t.Errorf("-vf が正しく指定されていません: %v", args)
	}
}
