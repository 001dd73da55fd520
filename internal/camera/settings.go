package camera

import (
	"fmt"
	"math"
	"strings"
)

// DefaultZoom はリセット時のズーム倍率
const DefaultZoom = 1.0

// CaptureSettings はチャンネルごとのキャプチャ設定。
// ズームは [1.0, MaxZoom]、オフセットは各軸 [-MaxOffset, MaxOffset] に収まる。
type CaptureSettings struct {
	Zoom   float64 `json:"zoom"`
	Offset *Offset `json:"offset,omitempty"`
	AFMode AFMode  `json:"af_mode"`
}

// NewCaptureSettings はデフォルト設定を作成する
func NewCaptureSettings(afMode AFMode) CaptureSettings {
	return CaptureSettings{Zoom: DefaultZoom, AFMode: afMode}
}

// Reset はズームとオフセットを初期値に戻す。AFモードは維持する
func (s *CaptureSettings) Reset() {
	s.Zoom = DefaultZoom
	s.Offset = nil
}

// ApplyZoom は現在の倍率に factor を掛けてから範囲内に丸める。
// factor が正の有限値でない場合は何もしない
func (s *CaptureSettings) ApplyZoom(factor, maxZoom float64) bool {
	if !(factor > 0) || math.IsInf(factor, 0) {
		return false
	}
	before := s.Zoom
	s.Zoom = clampFloat(s.Zoom*factor, DefaultZoom, maxZoom)
	return s.Zoom != before
}

// ApplyMove はオフセットに (dx, dy) を加えてから範囲内に丸める
func (s *CaptureSettings) ApplyMove(dx, dy int, limit Offset) bool {
	cur := Offset{}
	if s.Offset != nil {
		cur = *s.Offset
	}
	return s.SetOffset(Offset{X: cur.X + dx, Y: cur.Y + dy}, limit)
}

// SetOffset はオフセットを置き換える（範囲内に丸める）
func (s *CaptureSettings) SetOffset(o Offset, limit Offset) bool {
	next := clampOffset(o, limit)
	if s.Offset != nil && *s.Offset == next {
		return false
	}
	s.Offset = &next
	return true
}

// Request は現在の設定から繰り返しリクエストを作る
func (s CaptureSettings) Request() Request {
	req := Request{Zoom: s.Zoom, AFMode: s.AFMode}
	if s.Offset != nil {
		o := *s.Offset
		req.Offset = &o
	}
	return req
}

// TriggerRequest はAF開始フラグ付きの単発リクエストを作る
func (s CaptureSettings) TriggerRequest() Request {
	req := s.Request()
	req.AFTrigger = s.AFMode != AFModeOff
	return req
}

// Describe は設定の要約を返す。初期状態なら空文字列
func (s CaptureSettings) Describe() string {
	var lines []string
	if s.Zoom > DefaultZoom {
		lines = append(lines, fmt.Sprintf("ズーム x%d", int(s.Zoom)))
	}
	if s.Offset != nil {
		lines = append(lines, fmt.Sprintf("オフセット %s", s.Offset))
	}
	return strings.Join(lines, "\n")
}

func clampFloat(v, lo, hi float64) float64 {
	if !(hi >= lo) {
		hi = lo
	}
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampOffset(o, limit Offset) Offset {
	return Offset{
		X: clampInt(o.X, -absInt(limit.X), absInt(limit.X)),
		Y: clampInt(o.Y, -absInt(limit.Y), absInt(limit.Y)),
	}
}
