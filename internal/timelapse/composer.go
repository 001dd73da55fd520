package timelapse

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/jbravo94/glass-companion/internal/frame"
)

// Composer は複数チャンネルのフレームを1枚の画像に並べる
type Composer struct {
	outputWidth  int
	outputHeight int
	quality      int
}

// NewComposer は新しいComposerを作成する
func NewComposer(outputWidth, outputHeight, quality int) *Composer {
	if quality < 1 || quality > 100 {
		quality = 85
	}
	return &Composer{
		outputWidth:  outputWidth,
		outputHeight: outputHeight,
		quality:      quality,
	}
}

// Compose はフレームをチャンネル番号順に格子状に配置してJPEGにする。
// デコードできないフレームは飛ばす
func (c *Composer) Compose(frames []*frame.Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, errors.New("結合するフレームがありません")
	}

	sorted := append([]*frame.Frame(nil), frames...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Channel < sorted[j].Channel })

	layout := c.calculateLayout(len(sorted))
	dst := imaging.New(c.outputWidth, c.outputHeight, color.NRGBA{A: 255})

	placed := 0
	var decodeErrs []error
	for _, f := range sorted {
		img, err := imaging.Decode(bytes.NewReader(f.Data))
		if err != nil {
			decodeErrs = append(decodeErrs, fmt.Errorf("チャンネル %d: %w", f.Channel, err))
			continue
		}

		pos := c.calculatePosition(placed, layout)
		fitted := imaging.Fit(img, pos.Width, pos.Height, imaging.Linear)

		// セル内で中央に寄せる
		b := fitted.Bounds()
		pt := image.Pt(pos.X+(pos.Width-b.Dx())/2, pos.Y+(pos.Height-b.Dy())/2)
		dst = imaging.Paste(dst, fitted, pt)
		placed++
	}
	if placed == 0 {
		return nil, fmt.Errorf("有効なフレームがありません: %w", errors.Join(decodeErrs...))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		return nil, fmt.Errorf("JPEG エンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// layout はレイアウト情報
type layout struct {
	cols       int
	rows       int
	cellWidth  int
	cellHeight int
}

// calculateLayout はフレーム数に基づいてレイアウトを計算する
func (c *Composer) calculateLayout(frameCount int) layout {
	var cols, rows int

	switch frameCount {
	case 1:
		cols, rows = 1, 1
	case 2:
		cols, rows = 2, 1
	case 3, 4:
		cols, rows = 2, 2
	default:
		cols = int(float64(frameCount)*0.6) + 1 // 横を多めに
		rows = (frameCount + cols - 1) / cols
	}

	return layout{
		cols:       cols,
		rows:       rows,
		cellWidth:  c.outputWidth / cols,
		cellHeight: c.outputHeight / rows,
	}
}

// position は配置位置
type position struct {
	X, Y          int
	Width, Height int
}

// calculatePosition は指定したインデックスの配置位置を計算する
func (c *Composer) calculatePosition(index int, l layout) position {
	row := index / l.cols
	col := index % l.cols

	return position{
		X:      col * l.cellWidth,
		Y:      row * l.cellHeight,
		Width:  l.cellWidth,
		Height: l.cellHeight,
	}
}
