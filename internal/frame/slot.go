package frame

import (
	"sync"
	"time"
)

// Frame はエンコード済みの1枚の画像（通常はJPEG）
type Frame struct {
	Channel   int       // チャンネル番号
	Seq       uint64    // チャンネル内の連番
	Timestamp time.Time // 受信時刻
	Data      []byte    // 画像データ（不透明なバイト列）
}

// Size はフレームのバイト数を返す
func (f *Frame) Size() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// Stats はスロットの統計情報
type Stats struct {
	Published uint64 `json:"published"` // Publish された総数
	Taken     uint64 `json:"taken"`     // TakeLatest で取り出された総数
	Dropped   uint64 `json:"dropped"`   // 未取得のまま上書きされた総数
	Pending   bool   `json:"pending"`   // 未取得フレームの有無
}

// Slot は最新フレーム1枚だけを保持するバッファ
type Slot struct {
	mu      sync.Mutex
	pending *Frame

	published uint64
	taken     uint64
	dropped   uint64
}

// NewSlot は空のSlotを作成する
func NewSlot() *Slot {
	return &Slot{}
}

// Publish はフレームを書き込む。未取得のフレームがあれば置き換える。
// ブロックしない。
func (s *Slot) Publish(f *Frame) {
	if f == nil {
		return
	}

	s.mu.Lock()
	if s.pending != nil {
		s.dropped++
	}
	s.pending = f
	s.published++
	s.mu.Unlock()
}

// TakeLatest は保持中のフレームを取り出してスロットを空にする。
// 空の場合は (nil, false) を返す。エラーではないので呼び出し側はポーリングする。
func (s *Slot) TakeLatest() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.pending
	if f == nil {
		return nil, false
	}
	s.pending = nil
	s.taken++
	return f, true
}

// Stats は統計情報のスナップショットを返す
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Published: s.published,
		Taken:     s.taken,
		Dropped:   s.dropped,
		Pending:   s.pending != nil,
	}
}
