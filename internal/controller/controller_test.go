package controller

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"satsuei/internal/config"
	"satsuei/internal/device"
	"satsuei/internal/library"
	"satsuei/internal/media"
	"satsuei/internal/mux"
	"satsuei/internal/source"
)

const testDocumentDir = "/docs"

func newTestController(t *testing.T, fs afero.Fs, enum device.Enumerator, saver library.Saver) *Controller {
	t.Helper()

	muxers, err := mux.NewFactory(mux.Options{Container: mux.ContainerSrec, Fs: fs})
	if err != nil {
		t.Fatalf("mux.NewFactory failed: %v", err)
	}
	c, err := New(Options{
		Enumerator: enum,
		Sources: source.NewFactory(source.Settings{
			Width:      32,
			Height:     24,
			FrameRate:  50,
			SampleRate: 8000,
			Channels:   1,
		}),
		Muxers:      muxers,
		Saver:       saver,
		Fs:          fs,
		DocumentDir: testDocumentDir,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(context.Background()); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for condition")
}

func videoInputCount(c *Controller) int {
	n := 0
	for _, in := range c.Session().Inputs() {
		if in.MediaType() == media.MediaTypeVideo {
			n++
		}
	}
	return n
}

func TestController_StartCapture(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := newTestController(t, fs, device.NewDefaultMockEnumerator(), nil)

	c.StartCapture(context.Background())

	st := c.Status()
	if !st.Running {
		t.Fatalf("Expected running, got %s", st.State)
	}
	if !st.Recording {
		t.Error("Expected recording to start")
	}
	if st.Camera == nil || st.Camera.Position != "front" {
		t.Errorf("Expected front camera, got %+v", st.Camera)
	}
	if st.Microphone == nil || st.Microphone.ID != "mock-mic" {
		t.Errorf("Expected mock microphone, got %+v", st.Microphone)
	}
	if st.Stabilization != "standard" {
		t.Errorf("Expected standard stabilization, got %s", st.Stabilization)
	}

	// プレビューは最も奥に表示面の大きさで置かれる
	layers := c.Surface().Sublayers()
	if len(layers) != 1 || layers[0] != c.PreviewLayer() {
		t.Fatalf("Expected preview layer at index 0, got %d layers", len(layers))
	}
	if c.PreviewLayer().Frame() != c.Surface().Bounds() {
		t.Errorf("Expected layer frame %+v, got %+v", c.Surface().Bounds(), c.PreviewLayer().Frame())
	}

	waitFor(t, 2*time.Second, func() bool {
		st := c.Status()
		return st.VideoDelivered > 0 && st.AudioDelivered > 0 && st.RenderedFrames > 0
	})
}

func TestController_StartCaptureWhenRunningIsNoop(t *testing.T) {
	c := newTestController(t, afero.NewMemMapFs(), device.NewDefaultMockEnumerator(), nil)
	ctx := context.Background()

	c.StartCapture(ctx)
	inputs := c.Session().Inputs()
	outputs := c.Session().Outputs()

	c.StartCapture(ctx)

	if !c.Session().IsRunning() {
		t.Fatal("Expected running")
	}
	after := c.Session().Inputs()
	if len(after) != len(inputs) {
		t.Fatalf("Expected %d inputs, got %d", len(inputs), len(after))
	}
	for i := range inputs {
		if after[i] != inputs[i] {
			t.Errorf("Input %d was replaced", i)
		}
	}
	if len(c.Session().Outputs()) != len(outputs) {
		t.Errorf("Expected %d outputs, got %d", len(outputs), len(c.Session().Outputs()))
	}
	if n := len(c.Surface().Sublayers()); n != 1 {
		t.Errorf("Expected 1 sublayer, got %d", n)
	}
}

func TestController_EndCaptureRemovesPreview(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := newTestController(t, fs, device.NewDefaultMockEnumerator(), nil)
	ctx := context.Background()

	// 開始前でも失敗しない
	c.EndCapture(ctx)
	if c.PreviewLayer().Superlayer() != nil {
		t.Fatal("Expected no superlayer before start")
	}

	c.StartCapture(ctx)
	waitFor(t, 2*time.Second, func() bool { return c.Status().RecordedDuration > 0 })

	c.EndCapture(ctx)

	if c.PreviewLayer().Superlayer() != nil {
		t.Error("Expected preview layer to be removed")
	}
	if n := len(c.Surface().Sublayers()); n != 0 {
		t.Errorf("Expected no sublayers, got %d", n)
	}
	st := c.Status()
	if st.Running || st.Recording {
		t.Errorf("Expected stopped, got running=%v recording=%v", st.Running, st.Recording)
	}
	if st.State != "stopped" {
		t.Errorf("Expected stopped state, got %s", st.State)
	}

	c.movieOutput.Wait()
	rec, err := mux.ReadRecording(fs, c.OutputPath())
	if err != nil {
		t.Fatalf("ReadRecording failed: %v", err)
	}
	if len(rec.Samples) == 0 || rec.Trailer == nil {
		t.Errorf("Expected finalized recording, got %d samples", len(rec.Samples))
	}
}

func TestController_SwitchCamera(t *testing.T) {
	c := newTestController(t, afero.NewMemMapFs(), device.NewDefaultMockEnumerator(), nil)
	ctx := context.Background()

	c.StartCapture(ctx)

	for _, want := range []media.Position{media.PositionBack, media.PositionFront, media.PositionBack} {
		c.SwitchCamera(ctx)

		if n := videoInputCount(c); n != 1 {
			t.Fatalf("Expected exactly 1 video input, got %d", n)
		}
		in, ok := c.Session().Input(media.MediaTypeVideo)
		if !ok || in.Position() != want {
			t.Fatalf("Expected %s camera, got %v", want, in)
		}
		if !c.Session().IsRunning() {
			t.Fatal("Expected session to keep running")
		}
	}

	// 切り替え後の入力からもサンプルが届く
	before := c.PreviewLayer().Rendered()
	waitFor(t, 2*time.Second, func() bool { return c.PreviewLayer().Rendered() > before })
}

func TestController_SwitchCameraWithoutInput(t *testing.T) {
	enum := device.NewMockEnumerator(device.MockMicrophone("mic", "マイク"))
	c := newTestController(t, afero.NewMemMapFs(), enum, nil)
	ctx := context.Background()

	c.StartCapture(ctx)
	if c.Status().Camera != nil {
		t.Fatal("Expected no camera")
	}
	// 映像入力がなくても音声だけで開始する
	if !c.Session().IsRunning() {
		t.Fatal("Expected running with microphone only")
	}

	c.SwitchCamera(ctx)
	if n := videoInputCount(c); n != 0 {
		t.Errorf("Expected no video input, got %d", n)
	}
}

func TestController_SwitchCameraMissingTarget(t *testing.T) {
	enum := device.NewMockEnumerator(
		device.MockCamera("front", "前面カメラ", media.PositionFront),
		device.MockMicrophone("mic", "マイク"),
	)
	c := newTestController(t, afero.NewMemMapFs(), enum, nil)
	ctx := context.Background()

	c.StartCapture(ctx)
	c.SwitchCamera(ctx)

	// 背面カメラがなければ元のカメラのまま
	in, ok := c.Session().Input(media.MediaTypeVideo)
	if !ok || in.Device().ID != "front" {
		t.Errorf("Expected front camera to remain, got %v", in)
	}
}

func TestController_SwitchCameraRefused(t *testing.T) {
	c := newTestController(t, afero.NewMemMapFs(), device.NewDefaultMockEnumerator(), nil)
	ctx := context.Background()

	c.StartCapture(ctx)
	if _, ok := c.Session().Input(media.MediaTypeVideo); !ok {
		t.Fatal("Expected front camera before switch")
	}

	// 閉じたセッションには入力を追加できない
	if err := c.Session().Close(ctx); err != nil {
		t.Fatalf("Session Close failed: %v", err)
	}
	c.SwitchCamera(ctx)

	if in, ok := c.Session().Input(media.MediaTypeVideo); ok {
		t.Errorf("Expected no video input after refused switch, got %s", in.Device().ID)
	}
	if st := c.Status(); st.Camera != nil {
		t.Errorf("Expected no camera in status, got %+v", st.Camera)
	}

	// 追加できなくても切り替え先を現在のカメラとして扱う
	c.mu.Lock()
	cur := c.videoInput
	c.mu.Unlock()
	if cur == nil || cur.Position() != media.PositionBack {
		t.Errorf("Expected back camera to be recorded as current, got %v", cur)
	}
	if cur != nil && cur.Source().Status() != source.StatusInactive {
		t.Errorf("Expected refused camera not to run, got %s", cur.Source().Status())
	}
}

func TestController_OutputPathIsDeterministic(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := newTestController(t, fs, device.NewDefaultMockEnumerator(), nil)
	b := newTestController(t, fs, device.NewDefaultMockEnumerator(), nil)

	want := filepath.Join(testDocumentDir, "movie.mp4")
	if a.OutputPath() != want || b.OutputPath() != want {
		t.Errorf("Expected %s, got %s and %s", want, a.OutputPath(), b.OutputPath())
	}
	if ok, _ := afero.DirExists(fs, testDocumentDir); !ok {
		t.Error("Expected document directory to be created")
	}
}

func TestController_AppearAndToggleRecording(t *testing.T) {
	fs := afero.NewMemMapFs()
	saver := library.NewLocal(fs, "/library")
	c := newTestController(t, fs, device.NewDefaultMockEnumerator(), saver)
	ctx := context.Background()

	c.Appear(ctx)

	st := c.Status()
	if !st.Running || !st.Appeared {
		t.Fatalf("Expected running and appeared, got %+v", st)
	}
	if st.Recording {
		t.Error("Expected appear not to start recording")
	}
	if st.Camera == nil || st.Camera.Position != "front" {
		t.Fatalf("Expected front camera, got %+v", st.Camera)
	}
	cam, _ := c.Session().Input(media.MediaTypeVideo)
	if !cam.Handle().IsSubjectAreaChangeMonitoringEnabled() {
		t.Error("Expected subject area monitoring on the active camera")
	}
	if cam.Handle().IsLocked() {
		t.Error("Expected device lock to be released")
	}

	c.ToggleRecording(ctx)
	if !c.Status().Recording {
		t.Fatal("Expected recording")
	}
	waitFor(t, 2*time.Second, func() bool { return c.Status().RecordedDuration > 0 })

	c.ToggleRecording(ctx)
	waitFor(t, 5*time.Second, func() bool {
		r := c.LastRecording()
		return r != nil && (r.Location != "" || r.SaveError != "")
	})

	r := c.LastRecording()
	if r.Error != "" || r.SaveError != "" {
		t.Fatalf("Expected saved recording, got %+v", r)
	}
	if r.Path != c.OutputPath() {
		t.Errorf("Expected path %s, got %s", c.OutputPath(), r.Path)
	}
	if !strings.HasPrefix(r.Location, "/library/") {
		t.Errorf("Expected location under /library, got %s", r.Location)
	}
	if _, err := mux.ReadRecording(fs, r.Location); err != nil {
		t.Errorf("Saved copy is not readable: %v", err)
	}

	c.Disappear(ctx)

	st = c.Status()
	if st.Running || st.Appeared || st.Preview {
		t.Errorf("Expected stopped without preview, got %+v", st)
	}
	if cam.Handle().IsSubjectAreaChangeMonitoringEnabled() {
		t.Error("Expected subject area monitoring to be disabled")
	}
}

func TestController_ToggleRecordingWithoutLibrary(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := newTestController(t, fs, device.NewDefaultMockEnumerator(), nil)
	ctx := context.Background()

	if c.saver.Backend() != library.BackendNone {
		t.Fatalf("Expected none saver by default, got %s", c.saver.Backend())
	}

	c.Appear(ctx)
	c.ToggleRecording(ctx)
	waitFor(t, 2*time.Second, func() bool { return c.Status().RecordedDuration > 0 })

	// 停止直後に同じパスへ記録し直す
	c.ToggleRecording(ctx)
	c.ToggleRecording(ctx)
	if !c.Status().Recording {
		t.Fatal("Expected second recording to start")
	}

	first := c.LastRecording()
	if first == nil {
		t.Fatal("Expected first recording to be finished before restart")
	}
	if first.Error != "" || first.Duration <= 0 {
		t.Errorf("Expected finished first recording with duration, got %+v", first)
	}
	if first.Location != "" || first.SaveError != "" {
		t.Errorf("Expected no library save, got %+v", first)
	}

	c.ToggleRecording(ctx)
	c.movieOutput.Wait()
	if _, err := mux.ReadRecording(fs, c.OutputPath()); err != nil {
		t.Errorf("Second recording is not readable: %v", err)
	}
}

func TestController_SwitchMovesSubjectAreaMonitoring(t *testing.T) {
	c := newTestController(t, afero.NewMemMapFs(), device.NewDefaultMockEnumerator(), nil)
	ctx := context.Background()

	c.Appear(ctx)
	old, _ := c.Session().Input(media.MediaTypeVideo)
	observers := c.Center().ObserverCount()

	c.SwitchCamera(ctx)

	cur, _ := c.Session().Input(media.MediaTypeVideo)
	if cur.Position() != media.PositionBack {
		t.Fatalf("Expected back camera, got %s", cur.Position())
	}
	if old.Handle().IsSubjectAreaChangeMonitoringEnabled() {
		t.Error("Expected monitoring disabled on the previous camera")
	}
	if !cur.Handle().IsSubjectAreaChangeMonitoringEnabled() {
		t.Error("Expected monitoring enabled on the new camera")
	}
	if n := c.Center().ObserverCount(); n != observers {
		t.Errorf("Expected %d observers, got %d", observers, n)
	}
}

func TestController_ToggleRecordingWithoutSession(t *testing.T) {
	c := newTestController(t, afero.NewMemMapFs(), device.NewDefaultMockEnumerator(), nil)

	c.ToggleRecording(context.Background())

	if c.Status().Recording {
		t.Error("Expected no recording without a running session")
	}
}

func TestNewFromConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := config.Default()
	cfg.Capture.Driver = "mock"
	cfg.Recording.DocumentDir = "/captures"
	cfg.Recording.Container = mux.ContainerSrec
	cfg.Library.Backend = library.BackendLocal

	c, err := NewFromConfig(context.Background(), cfg, fs)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer func() {
		_ = c.Close(context.Background())
	}()

	if c.OutputPath() != cfg.OutputPath() {
		t.Errorf("Expected %s, got %s", cfg.OutputPath(), c.OutputPath())
	}
	if c.saver.Backend() != library.BackendLocal {
		t.Errorf("Expected local saver, got %v", c.saver)
	}

	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("Expected 3 mock devices, got %d", len(devices))
	}
}
