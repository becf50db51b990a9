package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"satsuei/internal/dispatch"
	"satsuei/internal/media"
	"satsuei/internal/mux"
	"satsuei/internal/router"
)

type recordingSampleDelegate struct {
	mu      sync.Mutex
	seqs    []uint64
	dropped int
	block   chan struct{}
}

func (d *recordingSampleDelegate) DidOutputSampleBuffer(_ *DataOutput, sample media.SampleBuffer, _ *Connection) {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seqs = append(d.seqs, sample.Seq)
}

func (d *recordingSampleDelegate) DidDropSampleBuffer(_ *DataOutput, _ media.SampleBuffer, _ *Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped++
}

func (d *recordingSampleDelegate) snapshot() ([]uint64, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.seqs...), d.dropped
}

func TestDataOutput_DeliversInOrderOnQueue(t *testing.T) {
	ctx := context.Background()
	s := NewSession(nil, nil)
	defer closeSession(t, s)

	queue := dispatch.NewQueue("video", 0)
	defer queue.Close()

	out := NewVideoDataOutput()
	delegate := &recordingSampleDelegate{}
	out.SetSampleBufferDelegate(delegate, queue)

	if err := s.AddInput(frontCamera(t)); err != nil {
		t.Fatalf("AddInput failed: %v", err)
	}
	if err := s.AddOutput(out); err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}
	if err := s.StartRunning(ctx); err != nil {
		t.Fatalf("StartRunning failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		seqs, _ := delegate.snapshot()
		if len(seqs) >= 5 {
			for i := 1; i < len(seqs); i++ {
				if seqs[i] <= seqs[i-1] {
					t.Fatalf("Samples out of order: %v", seqs)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out, got %d samples", len(seqs))
		}
		time.Sleep(10 * time.Millisecond)
	}

	if out.Delivered() == 0 {
		t.Error("Expected delivered count")
	}
}

func TestDataOutput_DropsWhenQueueFull(t *testing.T) {
	queue := dispatch.NewQueue("audio", 2)
	defer queue.Close()

	out := NewAudioDataOutput()
	delegate := &recordingSampleDelegate{block: make(chan struct{})}
	out.SetSampleBufferDelegate(delegate, queue)

	// 1つ目は実行中でブロック、2つ目と3つ目はキューに入り、4つ目以降は破棄される
	start := time.Now()
	for i := 1; i <= 5; i++ {
		out.deliver(media.SampleBuffer{MediaType: media.MediaTypeAudio, Seq: uint64(i)})
		if i == 1 {
			time.Sleep(50 * time.Millisecond)
		}
	}
	if time.Since(start) > time.Second {
		t.Fatal("deliver blocked on a full queue")
	}
	if out.Dropped() == 0 {
		t.Fatal("Expected dropped samples")
	}

	close(delegate.block)
	_ = queue.Sync(func() {})

	// キューが空いた後の配信で破棄が通知される
	out.deliver(media.SampleBuffer{MediaType: media.MediaTypeAudio, Seq: 6})
	_ = queue.Sync(func() {})

	seqs, dropped := delegate.snapshot()
	if dropped != 1 {
		t.Errorf("Expected 1 drop notification, got %d", dropped)
	}
	if len(seqs) == 0 || seqs[len(seqs)-1] != 6 {
		t.Errorf("Expected last delivered seq 6, got %v", seqs)
	}
}

func TestDataOutput_DisabledConnection(t *testing.T) {
	queue := dispatch.NewQueue("video", 0)
	defer queue.Close()

	out := NewVideoDataOutput()
	delegate := &recordingSampleDelegate{}
	out.SetSampleBufferDelegate(delegate, queue)
	out.Connection().SetEnabled(false)

	out.deliver(media.SampleBuffer{Seq: 1})
	_ = queue.Sync(func() {})

	if seqs, _ := delegate.snapshot(); len(seqs) != 0 {
		t.Errorf("Expected no delivery on disabled connection, got %v", seqs)
	}
}

type finishEvent struct {
	path     string
	duration time.Duration
	err      error
}

type testRecordingDelegate struct {
	started  chan string
	finished chan finishEvent
}

func newTestRecordingDelegate() *testRecordingDelegate {
	return &testRecordingDelegate{
		started:  make(chan string, 1),
		finished: make(chan finishEvent, 1),
	}
}

func (d *testRecordingDelegate) DidStartRecording(_ *MovieFileOutput, path string, _ []*Connection) {
	d.started <- path
}

func (d *testRecordingDelegate) DidFinishRecording(_ *MovieFileOutput, path string, duration time.Duration, _ []*Connection, err error) {
	d.finished <- finishEvent{path: path, duration: duration, err: err}
}

func (d *testRecordingDelegate) waitFinished(t *testing.T) finishEvent {
	t.Helper()
	select {
	case ev := <-d.finished:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for DidFinishRecording")
		return finishEvent{}
	}
}

func newSrecFactory(t *testing.T, fs afero.Fs) mux.Factory {
	t.Helper()
	f, err := mux.NewFactory(mux.Options{Container: mux.ContainerSrec, Fs: fs})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	return f
}

func TestMovieFileOutput_RecordsSamples(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := NewSession(nil, nil)
	defer closeSession(t, s)

	out := NewMovieFileOutput(newSrecFactory(t, fs), nil)
	delegate := newTestRecordingDelegate()

	if err := out.StartRecording("/docs/movie.mp4", delegate); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}

	if err := s.AddInput(frontCamera(t)); err != nil {
		t.Fatalf("AddInput failed: %v", err)
	}
	if err := s.AddInput(microphone(t)); err != nil {
		t.Fatalf("AddInput failed: %v", err)
	}
	if err := s.AddOutput(out); err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}
	if err := s.StartRunning(ctx); err != nil {
		t.Fatalf("StartRunning failed: %v", err)
	}

	if err := out.StartRecording("/docs/movie.mp4", delegate); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	if err := out.StartRecording("/docs/other.mp4", delegate); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Expected ErrAlreadyRecording, got %v", err)
	}

	select {
	case path := <-delegate.started:
		if path != "/docs/movie.mp4" {
			t.Errorf("Unexpected start path %s", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for DidStartRecording")
	}

	deadline := time.Now().Add(3 * time.Second)
	for out.RecordedDuration() < 100*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatalf("Recording did not progress: %v", out.RecordedDuration())
		}
		time.Sleep(10 * time.Millisecond)
	}

	out.StopRecording()
	if out.IsRecording() {
		t.Error("Expected recording to be stopped")
	}

	ev := delegate.waitFinished(t)
	if ev.err != nil {
		t.Fatalf("Recording finished with error: %v", ev.err)
	}

	rec, err := mux.ReadRecording(fs, "/docs/movie.mp4")
	if err != nil {
		t.Fatalf("ReadRecording failed: %v", err)
	}
	if rec.Trailer.VideoSamples == 0 || rec.Trailer.AudioSamples == 0 {
		t.Errorf("Expected both media types, got %+v", rec.Trailer)
	}
	if len(rec.Samples) > 0 && rec.Samples[0].PTS != 0 {
		t.Errorf("Expected first sample at PTS 0, got %v", rec.Samples[0].PTS)
	}
}

func TestMovieFileOutput_RemovedWhileRecording(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewSession(nil, nil)
	defer closeSession(t, s)

	out := NewMovieFileOutput(newSrecFactory(t, fs), nil)
	if err := s.AddOutput(out); err != nil {
		t.Fatalf("AddOutput failed: %v", err)
	}

	delegate := newTestRecordingDelegate()
	if err := out.StartRecording("/movie.mp4", delegate); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	s.RemoveOutput(out)

	ev := delegate.waitFinished(t)
	if !errors.Is(ev.err, ErrOutputRemoved) {
		t.Errorf("Expected ErrOutputRemoved, got %v", ev.err)
	}
	out.Wait()
	if out.IsRecording() {
		t.Error("Expected recording to be stopped")
	}
}

func TestMovieFileOutput_AttachTwice(t *testing.T) {
	r := router.New()
	out := NewMovieFileOutput(newSrecFactory(t, afero.NewMemMapFs()), nil)

	if err := out.Attach(r); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer out.Detach()

	if err := out.Attach(r); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("Expected ErrAlreadyAttached, got %v", err)
	}
}

// slowCloseFactory は確定処理に時間のかかる Muxer を作り、
// 確定処理中の同じパスに対する Create を数える
type slowCloseFactory struct {
	mu      sync.Mutex
	closing map[string]bool
	overlap int
}

func (f *slowCloseFactory) Create(path string) (mux.Muxer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closing[path] {
		f.overlap++
	}
	return &slowCloseMuxer{factory: f, path: path}, nil
}

func (f *slowCloseFactory) Container() string {
	return "slow"
}

func (f *slowCloseFactory) setClosing(path string, closing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing[path] = closing
}

func (f *slowCloseFactory) overlapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlap
}

type slowCloseMuxer struct {
	factory *slowCloseFactory
	path    string
}

func (m *slowCloseMuxer) WriteSample(media.SampleBuffer) error {
	return nil
}

func (m *slowCloseMuxer) Close() error {
	m.factory.setClosing(m.path, true)
	time.Sleep(200 * time.Millisecond)
	m.factory.setClosing(m.path, false)
	return nil
}

func TestMovieFileOutput_RestartWaitsForFinalize(t *testing.T) {
	r := router.New()
	defer func() {
		_ = r.Close()
	}()

	factory := &slowCloseFactory{closing: make(map[string]bool)}
	out := NewMovieFileOutput(factory, nil)
	if err := out.Attach(r); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer out.Detach()

	first := newTestRecordingDelegate()
	if err := out.StartRecording("/docs/movie.mp4", first); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	r.Publish(media.SampleBuffer{MediaType: media.MediaTypeVideo, Seq: 1, PTS: 0})
	r.Publish(media.SampleBuffer{MediaType: media.MediaTypeVideo, Seq: 2, PTS: 500 * time.Millisecond})

	deadline := time.Now().Add(2 * time.Second)
	for out.RecordedDuration() < 500*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatalf("Recording did not progress: %v", out.RecordedDuration())
		}
		time.Sleep(5 * time.Millisecond)
	}

	out.StopRecording()
	time.Sleep(20 * time.Millisecond)

	second := newTestRecordingDelegate()
	if err := out.StartRecording("/docs/movie.mp4", second); err != nil {
		t.Fatalf("Second StartRecording failed: %v", err)
	}
	if n := factory.overlapCount(); n != 0 {
		t.Errorf("Expected no Create while the previous file is closing, got %d", n)
	}

	// 前回の終了通知は次の記録の開始前に済んでいる
	select {
	case ev := <-first.finished:
		if ev.err != nil {
			t.Errorf("First recording finished with error: %v", ev.err)
		}
		if ev.duration != 500*time.Millisecond {
			t.Errorf("Expected first duration 500ms, got %v", ev.duration)
		}
	default:
		t.Fatal("Expected first recording to be finished before restart")
	}

	out.StopRecording()
	if ev := second.waitFinished(t); ev.err != nil {
		t.Errorf("Second recording finished with error: %v", ev.err)
	}
	out.Wait()
	if out.RecordedDuration() != 0 {
		t.Errorf("Expected empty second recording, got %v", out.RecordedDuration())
	}
}
