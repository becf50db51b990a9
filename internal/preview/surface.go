// Package preview はプレビュー表示面とセッションの映像を描画するレイヤーを提供する
package preview

import "sync"

// Rect は表示面上の矩形
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Surface はレイヤーを重ねて表示する面
//
// サブレイヤーは奥から手前の順に並ぶ。インデックス0が最も奥になる。
type Surface struct {
	mu        sync.RWMutex
	bounds    Rect
	sublayers []*Layer
}

// NewSurface は新しいSurfaceを作成する
func NewSurface(bounds Rect) *Surface {
	return &Surface{bounds: bounds}
}

// Bounds は表示面の大きさを返す
func (s *Surface) Bounds() Rect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bounds
}

// SetBounds は表示面の大きさを変更する
func (s *Surface) SetBounds(bounds Rect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounds = bounds
}

// Sublayers はサブレイヤーを奥から順に返す
func (s *Surface) Sublayers() []*Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Layer(nil), s.sublayers...)
}

// AddSublayer はレイヤーを最も手前に追加する
func (s *Surface) AddSublayer(l *Layer) {
	s.InsertSublayer(l, -1)
}

// InsertSublayer はレイヤーを指定位置に挿入する。
// 範囲外の位置は最も手前として扱う。別の面にあるレイヤーはそこから外す
func (s *Surface) InsertSublayer(l *Layer, index int) {
	if l == nil {
		return
	}
	l.RemoveFromSuperlayer()

	s.mu.Lock()
	if index < 0 || index > len(s.sublayers) {
		index = len(s.sublayers)
	}
	s.sublayers = append(s.sublayers, nil)
	copy(s.sublayers[index+1:], s.sublayers[index:])
	s.sublayers[index] = l
	s.mu.Unlock()

	l.setSuperlayer(s)
}

// remove はレイヤーを一覧から外す
func (s *Surface) remove(l *Layer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, cur := range s.sublayers {
		if cur == l {
			s.sublayers = append(s.sublayers[:i], s.sublayers[i+1:]...)
			return true
		}
	}
	return false
}
