package camera

import (
	"math"
	"testing"
)

func TestSelectAFMode(t *testing.T) {
	testCases := []struct {
		name      string
		supported []AFMode
		want      AFMode
	}{
		{name: "対応なし", supported: nil, want: AFModeOff},
		{name: "オフのみ", supported: []AFMode{AFModeOff}, want: AFModeOff},
		{name: "オートのみ", supported: []AFMode{AFModeOff, AFModeAuto}, want: AFModeAuto},
		{name: "レーザー優先", supported: []AFMode{AFModeAuto, AFModeLaserAssisted, AFModeOff}, want: AFModeLaserAssisted},
		{name: "レーザーが先頭", supported: []AFMode{AFModeLaserAssisted, AFModeAuto}, want: AFModeLaserAssisted},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SelectAFMode(tc.supported); got != tc.want {
				t.Errorf("SelectAFMode(%v) = %s, want %s", tc.supported, got, tc.want)
			}
		})
	}
}

func TestCaptureSettings_ZoomClamped(t *testing.T) {
	testCases := []struct {
		name    string
		maxZoom float64
		factors []float64
		want    float64
	}{
		{name: "上限で止まる", maxZoom: 8, factors: []float64{2, 2, 2, 2}, want: 8},
		{name: "上限後に縮小", maxZoom: 8, factors: []float64{2, 2, 2, 2, 0.5}, want: 4},
		{name: "下限で止まる", maxZoom: 8, factors: []float64{0.5, 0.5}, want: 1},
		{name: "ズーム非対応", maxZoom: 1, factors: []float64{2, 3}, want: 1},
		{name: "不正な倍率は無視", maxZoom: 4, factors: []float64{2, 0, -1}, want: 2},
		{name: "NaNは無視", maxZoom: 8, factors: []float64{math.NaN(), 2, math.NaN(), 2}, want: 4},
		{name: "無限大は無視", maxZoom: 8, factors: []float64{2, math.Inf(1), math.Inf(-1), 0.5}, want: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewCaptureSettings(AFModeOff)
			for _, f := range tc.factors {
				s.ApplyZoom(f, tc.maxZoom)
				if math.IsNaN(s.Zoom) || s.Zoom < 1 || s.Zoom > tc.maxZoom {
					t.Fatalf("ズームが範囲外: %v", s.Zoom)
				}
			}
			if s.Zoom != tc.want {
				t.Errorf("Zoom = %v, want %v", s.Zoom, tc.want)
			}
		})
	}
}

func TestCaptureSettings_OffsetClamped(t *testing.T) {
	limit := Offset{X: 10, Y: 5}
	moves := []Offset{{3, 3}, {20, 0}, {-50, -50}, {7, 12}, {100, 100}}

	s := NewCaptureSettings(AFModeOff)
	for _, m := range moves {
		s.ApplyMove(m.X, m.Y, limit)
		if s.Offset == nil {
			t.Fatal("オフセットが設定されていません")
		}
		if s.Offset.X < -limit.X || s.Offset.X > limit.X || s.Offset.Y < -limit.Y || s.Offset.Y > limit.Y {
			t.Fatalf("オフセットが範囲外: %s", s.Offset)
		}
	}
	if *s.Offset != limit {
		t.Errorf("Offset = %s, want %s", s.Offset, limit)
	}

	if s.SetOffset(limit, limit) {
		t.Error("同じオフセットで変更ありと判定されました")
	}

	s.Reset()
	if s.Offset != nil || s.Zoom != DefaultZoom {
		t.Errorf("リセット後の設定が不正: %+v", s)
	}
}

func TestCaptureSettings_Requests(t *testing.T) {
	s := NewCaptureSettings(AFModeAuto)
	s.ApplyZoom(2, 4)
	s.ApplyMove(1, -1, Offset{X: 5, Y: 5})

	req := s.Request()
	if req.AFTrigger {
		t.Error("繰り返しリクエストにAFトリガーが付いています")
	}
	if req.Zoom != 2 || req.Offset == nil || *req.Offset != (Offset{X: 1, Y: -1}) {
		t.Errorf("unexpected request: %+v", req)
	}

	// リクエストのオフセットは設定と共有しない
	req.Offset.X = 99
	if s.Offset.X == 99 {
		t.Error("リクエストが設定のオフセットを共有しています")
	}

	if !s.TriggerRequest().AFTrigger {
		t.Error("単発リクエストにAFトリガーがありません")
	}

	off := NewCaptureSettings(AFModeOff)
	if off.TriggerRequest().AFTrigger {
		t.Error("AFオフでトリガーが付いています")
	}
}

func TestCaptureSettings_Describe(t *testing.T) {
	s := NewCaptureSettings(AFModeOff)
	if got := s.Describe(); got != "" {
		t.Errorf("初期状態の要約が空ではありません: %q", got)
	}

	s.ApplyZoom(2, 8)
	s.ApplyMove(3, -4, Offset{X: 10, Y: 10})
	if got, want := s.Describe(), "ズーム x2\nオフセット (3, -4)"; got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
}
