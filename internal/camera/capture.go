package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FFmpegCapturer はffmpegを使ってV4L2デバイスからMJPEGストリームを取得する
type FFmpegCapturer struct {
	devicePath string
	width      int
	height     int
	fps        int
	quality    int
	logger     *zap.Logger
}

// NewFFmpegCapturer は新しいFFmpegCapturerを作成する
func NewFFmpegCapturer(devicePath string, width, height, fps, quality int, logger *zap.Logger) *FFmpegCapturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegCapturer{
		devicePath: devicePath,
		width:      width,
		height:     height,
		fps:        fps,
		quality:    quality,
		logger:     logger,
	}
}

// args はffmpegの引数を組み立てる。filter が空ならフィルタなし
func (c *FFmpegCapturer) args(filter string) []string {
	args := []string{
		"-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
		"-r", strconv.Itoa(c.fps),
		"-i", c.devicePath,
	}
	if filter != "" {
		args = append(args, "-vf", filter)
	}
	return append(args,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(c.quality),
		"-",
	)
}

// Stream はffmpegを起動し、JPEGフレームごとに onFrame を呼ぶ。
// ctx がキャンセルされるか ffmpeg が終了するまでブロックする
func (c *FFmpegCapturer) Stream(ctx context.Context, filter string, onFrame func([]byte)) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", c.args(filter)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderrパイプの作成に失敗: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: ffmpeg が見つかりません", ErrDeviceUnavailable)
		}
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.logger.Debug("ffmpeg", zap.String("device", c.devicePath), zap.String("stderr", scanner.Text()))
		}
	}()

	readErr := readJPEGStream(stdout, onFrame)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if readErr != nil {
		return fmt.Errorf("フレーム読み取りエラー: %w", readErr)
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpegが異常終了: %w", waitErr)
	}
	return nil
}

// readJPEGStream は r から連結されたJPEGを読み、1枚ごとに onFrame を呼ぶ
func readJPEGStream(r io.Reader, onFrame func([]byte)) error {
	buf := make([]byte, 256*1024)
	var splitter jpegSplitter

	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, f := range splitter.Feed(buf[:n]) {
				onFrame(f)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// jpegSplitter はSOI(FFD8)とEOI(FFD9)でバイト列をJPEGフレームに分割する
type jpegSplitter struct {
	pending []byte
}

// Feed はデータを追加し、完成したフレームを返す
func (s *jpegSplitter) Feed(p []byte) [][]byte {
	s.pending = append(s.pending, p...)

	var frames [][]byte
	for {
		start := bytes.Index(s.pending, jpegSOI)
		if start == -1 {
			// 末尾の 0xFF はSOIの前半かもしれないので残す
			if n := len(s.pending); n > 0 && s.pending[n-1] == 0xFF {
				s.pending = append(s.pending[:0], 0xFF)
			} else {
				s.pending = s.pending[:0]
			}
			return frames
		}

		end := bytes.Index(s.pending[start+len(jpegSOI):], jpegEOI)
		if end == -1 {
			// 完全なフレームがまだない。SOIより前の不要なデータを削除
			if start > 0 {
				s.pending = append(s.pending[:0], s.pending[start:]...)
			}
			return frames
		}

		end += start + len(jpegSOI) + len(jpegEOI)
		frames = append(frames, append([]byte(nil), s.pending[start:end]...))
		s.pending = append(s.pending[:0], s.pending[end:]...)
	}
}

// cropFilter はズームとオフセットをffmpegのcrop+scaleフィルタに変換する。
// 変換が不要なら空文字列を返す
func cropFilter(width, height int, zoom float64, offset *Offset) string {
	if zoom < 1 {
		zoom = 1
	}
	off := Offset{}
	if offset != nil {
		off = *offset
	}
	if zoom == 1 && off == (Offset{}) {
		return ""
	}

	cw := int(float64(width) / zoom)
	ch := int(float64(height) / zoom)
	cw = max(cw-cw%2, 2)
	ch = max(ch-ch%2, 2)

	x := clampInt(width/2+off.X-cw/2, 0, width-cw)
	y := clampInt(height/2+off.Y-ch/2, 0, height-ch)

	return fmt.Sprintf("crop=%d:%d:%d:%d,scale=%d:%d", cw, ch, x, y, width, height)
}
