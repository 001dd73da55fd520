package camera

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func newTestManager(t *testing.T, caps map[string]Capabilities, channels []Channel) (*Manager, *MockDevice) {
	t.Helper()
	dev := NewMockDevice(caps)
	m := NewManager(dev, channels, zap.NewNop())
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m, dev
}

func twoChannels() []Channel {
	return []Channel{
		{Index: 1, ID: "side", Name: "Side Camera", Width: 640, Height: 480},
		{Index: 0, ID: "front", Name: "Front Camera", Width: 640, Height: 480},
	}
}

func TestManager_Basic(t *testing.T) {
	ctx := context.Background()
	m, dev := newTestManager(t, map[string]Capabilities{
		"front": {MaxZoom: 8},
		"side":  {MaxZoom: 4},
	}, twoChannels())

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !m.Started() {
		t.Error("Started() = false")
	}

	channels := m.Channels()
	if len(channels) != 2 || channels[0].Index != 0 || channels[1].Index != 1 {
		t.Fatalf("チャンネルの順序が不正: %+v", channels)
	}

	for _, info := range m.Infos() {
		if info.State != StateStreaming {
			t.Errorf("channel %d: expected streaming, got %s", info.Channel.Index, info.State)
		}
	}

	// チャンネルごとに独立した Slot
	s0, _ := m.Slot(0)
	s1, _ := m.Slot(1)
	if s0 == s1 {
		t.Fatal("Slot が共有されています")
	}
	dev.Handle("front").Session().EmitFrame([]byte{1})
	if _, ok := s1.TakeLatest(); ok {
		t.Error("他チャンネルのフレームが届きました")
	}
	if _, ok := s0.TakeLatest(); !ok {
		t.Error("フレームが届いていません")
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	for _, info := range m.Infos() {
		if info.State != StateClosed {
			t.Errorf("channel %d: expected closed, got %s", info.Channel.Index, info.State)
		}
	}
}

func TestManager_ChannelFailureIsLocal(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, map[string]Capabilities{
		"front": {MaxZoom: 2},
	}, twoChannels())

	err := m.Start(ctx)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}

	front, _ := m.Controller(0)
	side, _ := m.Controller(1)
	if front.State() != StateStreaming {
		t.Errorf("正常なチャンネルが影響を受けました: %s", front.State())
	}
	if side.State() != StateClosed {
		t.Errorf("Expected side closed, got %s", side.State())
	}
}

func TestManager_UnknownChannel(t *testing.T) {
	m, _ := newTestManager(t, nil, twoChannels())

	if _, err := m.Controller(9); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Expected ErrUnknownChannel, got %v", err)
	}
	if _, ok := m.Slot(9); ok {
		t.Error("存在しないチャンネルの Slot が返されました")
	}
	if err := m.ReopenChannel(context.Background(), 9); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Expected ErrUnknownChannel, got %v", err)
	}
}

func TestManager_ZoomAllAndResetAll(t *testing.T) {
	ctx := context.Background()
	m, dev := newTestManager(t, map[string]Capabilities{
		"front": {MaxZoom: 8},
		"side":  {MaxZoom: 2},
	}, twoChannels())

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.ZoomAll(2.0); err != nil {
			t.Fatalf("ZoomAll failed: %v", err)
		}
	}

	if got := dev.Handle("front").Session().LastRepeating().Zoom; got != 8 {
		t.Errorf("front zoom = %v, want 8", got)
	}
	if got := dev.Handle("side").Session().LastRepeating().Zoom; got != 2 {
		t.Errorf("side zoom = %v, want 2", got)
	}

	if err := m.ResetAll(); err != nil {
		t.Fatalf("ResetAll failed: %v", err)
	}
	for _, id := range []string{"front", "side"} {
		if got := dev.Handle(id).Session().LastRepeating().Zoom; got != 1 {
			t.Errorf("%s zoom after reset = %v, want 1", id, got)
		}
	}
}

func TestManager_ToggleTorch(t *testing.T) {
	ctx := context.Background()
	m, dev := newTestManager(t, map[string]Capabilities{"front": {}, "side": {}}, twoChannels())

	if _, err := m.ToggleTorch(); !errors.Is(err, ErrTorchUnsupported) {
		t.Errorf("未オープンで切り替えできました: %v", err)
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	on, err := m.ToggleTorch()
	if err != nil || !on {
		t.Fatalf("ToggleTorch = %v, %v", on, err)
	}
	if !dev.Handle("front").TorchOn() {
		t.Error("ライトが点灯していません")
	}

	on, err = m.ToggleTorch()
	if err != nil || on {
		t.Fatalf("ToggleTorch = %v, %v", on, err)
	}
}

func TestManager_TriggerAutoFocusAll(t *testing.T) {
	m, dev := newTestManager(t, map[string]Capabilities{
		"front": {MaxZoom: 8, AFModes: []AFMode{AFModeAuto}},
		"side":  {MaxZoom: 4},
	}, twoChannels())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// AF非対応のチャンネルとクローズ済みのチャンネルは無視される
	side, _ := m.Controller(1)
	_ = side.Close()

	if err := m.TriggerAutoFocusAll(); err != nil {
		t.Fatalf("TriggerAutoFocusAll failed: %v", err)
	}
	captures := dev.Handle("front").Session().Captures()
	if len(captures) != 1 || !captures[0].AFTrigger {
		t.Errorf("unexpected captures: %+v", captures)
	}
}

func TestManager_ReopenChannel(t *testing.T) {
	ctx := context.Background()
	m, dev := newTestManager(t, map[string]Capabilities{"front": {MaxZoom: 2}, "side": {}}, twoChannels())

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := dev.Handle("front")

	if err := m.ReopenChannel(ctx, 0); err != nil {
		t.Fatalf("ReopenChannel failed: %v", err)
	}
	if !first.Closed() {
		t.Error("以前のハンドルが閉じられていません")
	}
	if dev.OpenCount("front") != 2 {
		t.Errorf("Expected 2 opens, got %d", dev.OpenCount("front"))
	}
	c, _ := m.Controller(0)
	if c.State() != StateStreaming {
		t.Errorf("Expected streaming, got %s", c.State())
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m, dev := newTestManager(t, map[string]Capabilities{
		"front": {MaxZoom: 8, MaxOffset: Offset{X: 10, Y: 10}},
		"side":  {MaxZoom: 8},
	}, twoChannels())

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = m.ZoomAll(1.5)
		}()
		go func() {
			defer wg.Done()
			_ = m.Infos()
		}()
		go func() {
			defer wg.Done()
			dev.Handle("front").Session().EmitFrame([]byte{0xFF, 0xD8})
		}()
	}
	wg.Wait()

	for _, info := range m.Infos() {
		if info.Settings.Zoom < 1 || info.Settings.Zoom > 8 {
			t.Errorf("ズームが範囲外: %v", info.Settings.Zoom)
		}
	}
}
