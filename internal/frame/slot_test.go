package frame

import (
	"sync"
	"testing"
)

func newFrame(size int, seq uint64) *Frame {
	return &Frame{Seq: seq, Data: make([]byte, size)}
}

func TestSlot_FreshestWins(t *testing.T) {
	testCases := []struct {
		name  string
		sizes []int
	}{
		{name: "1枚", sizes: []int{10}},
		{name: "3枚", sizes: []int{100, 200, 300}},
		{name: "同じサイズが連続", sizes: []int{5, 5, 5, 5, 7}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSlot()
			for i, size := range tc.sizes {
				s.Publish(newFrame(size, uint64(i)))
			}

			f, ok := s.TakeLatest()
			if !ok {
				t.Fatal("フレームが取得できませんでした")
			}
			last := len(tc.sizes) - 1
			if f.Seq != uint64(last) || f.Size() != tc.sizes[last] {
				t.Errorf("最新フレームではありません: seq=%d size=%d", f.Seq, f.Size())
			}

			stats := s.Stats()
			if stats.Dropped != uint64(len(tc.sizes)-1) {
				t.Errorf("Dropped = %d, want %d", stats.Dropped, len(tc.sizes)-1)
			}
		})
	}
}

func TestSlot_NoDuplicateTake(t *testing.T) {
	s := NewSlot()
	s.Publish(newFrame(1, 1))

	if _, ok := s.TakeLatest(); !ok {
		t.Fatal("1回目の取得に失敗しました")
	}
	if f, ok := s.TakeLatest(); ok {
		t.Errorf("2回目は空であるべきです: %+v", f)
	}
}

func TestSlot_EmptyIsNotAnError(t *testing.T) {
	s := NewSlot()
	f, ok := s.TakeLatest()
	if ok || f != nil {
		t.Errorf("空のスロットから取得できました: %+v", f)
	}

	s.Publish(nil)
	if s.Stats().Published != 0 {
		t.Error("nilフレームは無視されるべきです")
	}
}

func TestSlot_ThreeFramesScenario(t *testing.T) {
	s := NewSlot()
	for i, size := range []int{100, 200, 300} {
		s.Publish(newFrame(size, uint64(i)))
	}

	f, ok := s.TakeLatest()
	if !ok || f.Size() != 300 {
		t.Fatalf("300バイトのフレームを期待しました: ok=%v size=%d", ok, f.Size())
	}
	if _, ok := s.TakeLatest(); ok {
		t.Error("2回目の取得は空であるべきです")
	}

	stats := s.Stats()
	if stats.Published != 3 || stats.Taken != 1 || stats.Dropped != 2 || stats.Pending {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSlot_ConcurrentConsumersNeverDuplicate(t *testing.T) {
	const frames = 2000
	const consumers = 4

	s := NewSlot()
	seen := make([]map[uint64]bool, consumers)
	done := make(chan struct{})

	var wg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		seen[c] = make(map[uint64]bool)
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for {
				if f, ok := s.TakeLatest(); ok {
					seen[c][f.Seq] = true
					continue
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}(c)
	}

	for i := 0; i < frames; i++ {
		s.Publish(newFrame(1, uint64(i)))
	}
	close(done)
	wg.Wait()

	// 残りを回収
	total := make(map[uint64]int)
	for c := range seen {
		for seq := range seen[c] {
			total[seq]++
		}
	}
	if f, ok := s.TakeLatest(); ok {
		total[f.Seq]++
	}

	for seq, n := range total {
		if n > 1 {
			t.Errorf("フレーム %d が %d 回取得されました", seq, n)
		}
	}

	stats := s.Stats()
	if stats.Taken+stats.Dropped != stats.Published {
		t.Errorf("taken(%d)+dropped(%d) != published(%d)", stats.Taken, stats.Dropped, stats.Published)
	}
}
