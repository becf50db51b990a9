package device

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"satsuei/internal/media"
	"satsuei/internal/notify"
)

// FocusMode はフォーカスの動作モード
type FocusMode int

const (
	FocusModeLocked              FocusMode = iota // 固定
	FocusModeAutoFocus                            // 一度だけ合わせる
	FocusModeContinuousAutoFocus                  // 常に合わせ続ける
)

func (f FocusMode) String() string {
	switch f {
	case FocusModeLocked:
		return "locked"
	case FocusModeAutoFocus:
		return "auto"
	case FocusModeContinuousAutoFocus:
		return "continuous"
	default:
		return "unknown"
	}
}

// Point は正規化された画面座標（0.0〜1.0）
type Point struct {
	X float64
	Y float64
}

// 被写体領域変化の検知パラメータ
const (
	subjectAreaThreshold = 0.25            // 平均フレームサイズからの変化率
	subjectAreaCooldown  = 1 * time.Second // 連続通知の抑止時間
	subjectAreaSmoothing = 0.2             // 移動平均の重み
)

// Handle は開かれたキャプチャデバイスのオブジェクト
//
// プロパティの変更は LockForConfiguration と UnlockForConfiguration の間でのみ行える。
// 通知の発行元オブジェクトとしても使われるため、同じデバイスでも Open ごとに別物になる。
type Handle struct {
	device Device
	center *notify.Center

	locked atomic.Bool

	mu                 sync.RWMutex
	focusMode          FocusMode
	focusPoint         Point
	subjectAreaMonitor bool

	// 被写体領域変化の検知状態
	avgSize    float64
	lastChange time.Time
	changes    atomic.Uint64
}

// Open はデバイスのHandleを作成する。centerがnilの場合は通知を発行しない
func Open(d Device, center *notify.Center) *Handle {
	return &Handle{
		device:     d,
		center:     center,
		focusMode:  FocusModeContinuousAutoFocus,
		focusPoint: Point{X: 0.5, Y: 0.5},
	}
}

// Device はデバイス情報を返す
func (h *Handle) Device() Device {
	return h.device
}

// ID はデバイスIDを返す
func (h *Handle) ID() string {
	return h.device.ID
}

// Position はカメラの向きを返す
func (h *Handle) Position() media.Position {
	return h.device.Position
}

// MediaType はメディア種別を返す
func (h *Handle) MediaType() media.MediaType {
	return h.device.MediaType
}

// LockForConfiguration はプロパティ変更のための排他ロックを取得する
func (h *Handle) LockForConfiguration() error {
	if !h.locked.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", h.device.ID, ErrDeviceLocked)
	}
	return nil
}

// UnlockForConfiguration はロックを解放する
func (h *Handle) UnlockForConfiguration() {
	h.locked.Store(false)
}

// IsLocked はロック中かどうかを返す
func (h *Handle) IsLocked() bool {
	return h.locked.Load()
}

// SetFocusMode はフォーカスモードを設定する
func (h *Handle) SetFocusMode(mode FocusMode) error {
	if err := h.checkMutable(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.focusMode = mode
	return nil
}

// FocusMode は現在のフォーカスモードを返す
func (h *Handle) FocusMode() FocusMode {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.focusMode
}

// SetFocusPointOfInterest はフォーカス位置を設定する
func (h *Handle) SetFocusPointOfInterest(p Point) error {
	if err := h.checkMutable(); err != nil {
		return err
	}
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
		return fmt.Errorf("無効なフォーカス位置 (%.2f, %.2f): %w", p.X, p.Y, ErrUnsupported)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.focusPoint = p
	return nil
}

// FocusPointOfInterest は現在のフォーカス位置を返す
func (h *Handle) FocusPointOfInterest() Point {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.focusPoint
}

// SetSubjectAreaChangeMonitoringEnabled は被写体領域変化の監視を切り替える
func (h *Handle) SetSubjectAreaChangeMonitoringEnabled(enabled bool) error {
	if err := h.checkMutable(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subjectAreaMonitor = enabled
	if !enabled {
		h.avgSize = 0
	}
	return nil
}

// IsSubjectAreaChangeMonitoringEnabled は監視が有効かどうかを返す
func (h *Handle) IsSubjectAreaChangeMonitoringEnabled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subjectAreaMonitor
}

// SubjectAreaChanges は発行した被写体領域変化の通知数を返す
func (h *Handle) SubjectAreaChanges() uint64 {
	return h.changes.Load()
}

// ObserveSample はキャプチャした映像サンプルから被写体領域の変化を検知する
//
// 圧縮後のフレームサイズが移動平均から大きく外れた場合をシーンの変化とみなし、
// 監視が有効なら SubjectAreaDidChange を発行する。
func (h *Handle) ObserveSample(sample media.SampleBuffer) {
	if sample.MediaType != media.MediaTypeVideo {
		return
	}

	h.mu.Lock()
	if !h.subjectAreaMonitor {
		h.mu.Unlock()
		return
	}

	size := float64(sample.Size())
	changed := false
	if h.avgSize > 0 {
		ratio := math.Abs(size-h.avgSize) / h.avgSize
		if ratio > subjectAreaThreshold && sample.Timestamp.Sub(h.lastChange) >= subjectAreaCooldown {
			changed = true
			h.lastChange = sample.Timestamp
			// 新しいシーンを基準にし直す
			h.avgSize = size
		} else {
			h.avgSize = h.avgSize*(1-subjectAreaSmoothing) + size*subjectAreaSmoothing
		}
	} else {
		h.avgSize = size
	}
	h.mu.Unlock()

	if changed {
		h.changes.Add(1)
		if h.center != nil {
			h.center.Post(notify.Notification{
				Name:   notify.SubjectAreaDidChange,
				Object: h,
				Info: map[string]any{
					"device_id": h.device.ID,
					"seq":       sample.Seq,
				},
			})
		}
	}
}

// checkMutable はプロパティ変更が可能かチェックする
func (h *Handle) checkMutable() error {
	if !h.locked.Load() {
		return fmt.Errorf("%s: %w", h.device.ID, ErrNotLocked)
	}
	if h.device.MediaType != media.MediaTypeVideo {
		return fmt.Errorf("%s: %w", h.device.ID, ErrUnsupported)
	}
	return nil
}
