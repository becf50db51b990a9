package device

import (
	"errors"
	"testing"
	"time"

	"satsuei/internal/media"
	"satsuei/internal/notify"
)

func TestHandle_LockBracketsMutation(t *testing.T) {
	h := Open(MockCamera("cam", "カメラ", media.PositionFront), nil)

	if err := h.SetFocusMode(FocusModeLocked); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("Expected ErrNotLocked, got %v", err)
	}

	if err := h.LockForConfiguration(); err != nil {
		t.Fatalf("LockForConfiguration failed: %v", err)
	}
	if err := h.LockForConfiguration(); !errors.Is(err, ErrDeviceLocked) {
		t.Errorf("Expected ErrDeviceLocked on second lock, got %v", err)
	}

	if err := h.SetFocusMode(FocusModeAutoFocus); err != nil {
		t.Errorf("SetFocusMode failed: %v", err)
	}
	if err := h.SetFocusPointOfInterest(Point{X: 0.2, Y: 0.8}); err != nil {
		t.Errorf("SetFocusPointOfInterest failed: %v", err)
	}
	if err := h.SetFocusPointOfInterest(Point{X: 1.5, Y: 0}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for out-of-range point, got %v", err)
	}
	if err := h.SetSubjectAreaChangeMonitoringEnabled(true); err != nil {
		t.Errorf("SetSubjectAreaChangeMonitoringEnabled failed: %v", err)
	}

	h.UnlockForConfiguration()
	if h.IsLocked() {
		t.Error("Expected handle to be unlocked")
	}

	if h.FocusMode() != FocusModeAutoFocus {
		t.Errorf("Expected auto focus, got %s", h.FocusMode())
	}
	if p := h.FocusPointOfInterest(); p.X != 0.2 || p.Y != 0.8 {
		t.Errorf("Unexpected focus point %+v", p)
	}
	if !h.IsSubjectAreaChangeMonitoringEnabled() {
		t.Error("Expected monitoring to be enabled")
	}
}

func TestHandle_MicrophoneRejectsVideoProperties(t *testing.T) {
	h := Open(MockMicrophone("mic", "マイク"), nil)

	if err := h.LockForConfiguration(); err != nil {
		t.Fatalf("LockForConfiguration failed: %v", err)
	}
	defer h.UnlockForConfiguration()

	if err := h.SetFocusMode(FocusModeLocked); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestHandle_SubjectAreaChange(t *testing.T) {
	center := notify.NewCenter()
	h := Open(MockCamera("cam", "カメラ", media.PositionBack), center)

	received := 0
	center.AddObserver(notify.SubjectAreaDidChange, h, func(n notify.Notification) {
		received++
		if n.Object != h {
			t.Errorf("Expected handle as notification object")
		}
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	frame := func(i int, size int) media.SampleBuffer {
		return media.SampleBuffer{
			MediaType: media.MediaTypeVideo,
			Seq:       uint64(i),
			Timestamp: start.Add(time.Duration(i) * 100 * time.Millisecond),
			Data:      make([]byte, size),
		}
	}

	// 監視が無効な間は通知しない
	h.ObserveSample(frame(0, 1000))
	h.ObserveSample(frame(1, 5000))
	if received != 0 {
		t.Fatalf("Expected no notification while monitoring disabled, got %d", received)
	}

	_ = h.LockForConfiguration()
	_ = h.SetSubjectAreaChangeMonitoringEnabled(true)
	h.UnlockForConfiguration()

	for i := 2; i < 12; i++ {
		h.ObserveSample(frame(i, 1000))
	}
	if received != 0 {
		t.Fatalf("Expected stable scene to produce no notification, got %d", received)
	}

	h.ObserveSample(frame(12, 3000))
	if received != 1 {
		t.Fatalf("Expected 1 notification after scene change, got %d", received)
	}

	// クールダウン中は通知しない
	h.ObserveSample(frame(13, 9000))
	if received != 1 {
		t.Errorf("Expected cooldown to suppress notification, got %d", received)
	}
	if h.SubjectAreaChanges() != 1 {
		t.Errorf("Expected 1 change counted, got %d", h.SubjectAreaChanges())
	}
}
