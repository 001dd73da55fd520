// Package frame はカメラチャンネルごとの最新フレームを保持する単一スロットバッファを提供する。
//
// Slot はキューではない。未取得のフレームがある状態で新しいフレームが
// 書き込まれると、古いフレームは黙って破棄される（鮮度優先）。
// TakeLatest は取り出しとクリアを1回の排他区間で行うため、
// 同じフレームが2回返されることはない。
package frame
