package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"satsuei/internal/media"
	"satsuei/internal/notify"
	"satsuei/internal/router"
)

// State はセッションの状態
type State int

const (
	StateIdle       State = iota // 入出力なし
	StateConfigured              // 入出力あり、停止中
	StateRunning                 // 実行中
	StateStopped                 // 停止済み
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConfigured は入出力が1つもない状態で開始しようとした場合のエラー
	ErrNotConfigured = errors.New("セッションに入出力がありません")
	// ErrCannotAddInput は入力を追加できない場合のエラー
	ErrCannotAddInput = errors.New("入力を追加できません")
	// ErrCannotAddOutput は出力を追加できない場合のエラー
	ErrCannotAddOutput = errors.New("出力を追加できません")
	// ErrSessionClosed はクローズ済みのセッションを操作した場合のエラー
	ErrSessionClosed = errors.New("セッションはクローズされています")
)

// layout はセッションの入出力の組
type layout struct {
	inputs  map[media.MediaType]*DeviceInput
	outputs map[OutputKind]Output
}

func newLayout() layout {
	return layout{
		inputs:  make(map[media.MediaType]*DeviceInput),
		outputs: make(map[OutputKind]Output),
	}
}

func (l layout) clone() layout {
	c := newLayout()
	for k, v := range l.inputs {
		c.inputs[k] = v
	}
	for k, v := range l.outputs {
		c.outputs[k] = v
	}
	return c
}

func (l layout) empty() bool {
	return len(l.inputs) == 0 && len(l.outputs) == 0
}

// Session はキャプチャセッション
type Session struct {
	id     string
	router router.Router
	center *notify.Center

	// configMu は構成の適用と開始・停止を直列化する
	configMu sync.Mutex

	mu        sync.RWMutex
	state     State
	committed layout
	pending   *layout
	depth     int
	closed    bool

	pumps     map[media.MediaType]*pump
	startedAt time.Time
	seq       [2]atomic.Uint64
}

// NewSession は新しいセッションを作成する
func NewSession(r router.Router, center *notify.Center) *Session {
	if r == nil {
		r = router.New()
	}
	return &Session{
		id:        uuid.NewString(),
		router:    r,
		center:    center,
		committed: newLayout(),
		pumps:     make(map[media.MediaType]*pump),
	}
}

// ID はセッションIDを返す
func (s *Session) ID() string {
	return s.id
}

// Router はセッションが使うルーターを返す
func (s *Session) Router() router.Router {
	return s.router
}

// State は現在の状態を返す
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsRunning は実行中かどうかを返す
func (s *Session) IsRunning() bool {
	return s.State() == StateRunning
}

// Inputs は適用済みの入力を返す
func (s *Session) Inputs() []*DeviceInput {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inputs := make([]*DeviceInput, 0, len(s.committed.inputs))
	for _, mt := range media.MediaTypes() {
		if in, ok := s.committed.inputs[mt]; ok {
			inputs = append(inputs, in)
		}
	}
	return inputs
}

// Input は指定メディア種別の適用済みの入力を返す
func (s *Session) Input(mediaType media.MediaType) (*DeviceInput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.committed.inputs[mediaType]
	return in, ok
}

// Outputs は適用済みの出力を返す
func (s *Session) Outputs() []Output {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outputs := make([]Output, 0, len(s.committed.outputs))
	for _, kind := range []OutputKind{KindPreview, KindVideoData, KindAudioData, KindMovieFile} {
		if out, ok := s.committed.outputs[kind]; ok {
			outputs = append(outputs, out)
		}
	}
	return outputs
}

// BeginConfiguration は構成変更の開始を示す。入れ子にできる
func (s *Session) BeginConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.depth == 0 {
		p := s.committed.clone()
		s.pending = &p
	}
	s.depth++
}

// CommitConfiguration は構成変更を確定する。
// 最も外側の呼び出しで、それまでの変更をまとめて適用する
func (s *Session) CommitConfiguration() {
	s.mu.Lock()
	if s.depth == 0 {
		s.mu.Unlock()
		slog.Warn("capture: BeginConfigurationなしでCommitConfigurationが呼ばれました", "session", s.id)
		return
	}
	s.depth--
	if s.depth > 0 {
		s.mu.Unlock()
		return
	}
	next := *s.pending
	s.pending = nil
	s.mu.Unlock()

	s.apply(next)
}

// CanAddInput は入力を追加できるかを返す。メディア種別ごとに1つまで
func (s *Session) CanAddInput(in *DeviceInput) bool {
	if in == nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.view().inputs[in.MediaType()]
	return !exists
}

// AddInput は入力を追加する
func (s *Session) AddInput(in *DeviceInput) error {
	return s.configure(func(l *layout) error {
		if s.closed || in == nil {
			return ErrCannotAddInput
		}
		if _, exists := l.inputs[in.MediaType()]; exists {
			return fmt.Errorf("%w: %s入力は既にあります", ErrCannotAddInput, in.MediaType())
		}
		l.inputs[in.MediaType()] = in
		return nil
	})
}

// RemoveInput は入力を削除する。セッションにない入力は無視する
func (s *Session) RemoveInput(in *DeviceInput) {
	_ = s.configure(func(l *layout) error {
		if in == nil {
			return nil
		}
		if cur, ok := l.inputs[in.MediaType()]; ok && cur == in {
			delete(l.inputs, in.MediaType())
		}
		return nil
	})
}

// CanAddOutput は出力を追加できるかを返す。種類ごとに1つまで
func (s *Session) CanAddOutput(out Output) bool {
	if out == nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.view().outputs[out.Kind()]
	return !exists
}

// AddOutput は出力を追加する
func (s *Session) AddOutput(out Output) error {
	return s.configure(func(l *layout) error {
		if s.closed || out == nil {
			return ErrCannotAddOutput
		}
		if _, exists := l.outputs[out.Kind()]; exists {
			return fmt.Errorf("%w: %s出力は既にあります", ErrCannotAddOutput, out.Kind())
		}
		l.outputs[out.Kind()] = out
		return nil
	})
}

// RemoveOutput は出力を削除する。セッションにない出力は無視する
func (s *Session) RemoveOutput(out Output) {
	_ = s.configure(func(l *layout) error {
		if out == nil {
			return nil
		}
		if cur, ok := l.outputs[out.Kind()]; ok && cur == out {
			delete(l.outputs, out.Kind())
		}
		return nil
	})
}

// view は構成変更中なら変更後の、そうでなければ適用済みの組を返す。mu を保持して呼ぶ
func (s *Session) view() layout {
	if s.pending != nil {
		return *s.pending
	}
	return s.committed
}

// configure は変更を構成変更の中で行う。括弧の外なら即座に適用する
func (s *Session) configure(change func(l *layout) error) error {
	s.BeginConfiguration()

	s.mu.Lock()
	err := change(s.pending)
	s.mu.Unlock()

	s.CommitConfiguration()
	return err
}

// apply は新しい組を適用する。
// 古い入力のポンプを止めてから新しい入力のポンプを始め、最後に組を差し替える
func (s *Session) apply(next layout) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	s.mu.RLock()
	prev := s.committed
	running := s.state == StateRunning
	s.mu.RUnlock()

	// 出力
	for kind, out := range prev.outputs {
		if cur, ok := next.outputs[kind]; !ok || cur != out {
			out.Detach()
			slog.Info("capture: 出力を削除しました", "session", s.id, "kind", kind)
		}
	}
	for kind, out := range next.outputs {
		if cur, ok := prev.outputs[kind]; ok && cur == out {
			continue
		}
		if err := out.Attach(s.router); err != nil {
			slog.Warn("capture: 出力の接続に失敗", "session", s.id, "kind", kind, "error", err)
			delete(next.outputs, kind)
			continue
		}
		slog.Info("capture: 出力を追加しました", "session", s.id, "kind", kind)
	}

	// 入力
	for mt, in := range prev.inputs {
		if cur, ok := next.inputs[mt]; ok && cur == in {
			continue
		}
		if running {
			s.stopPump(mt)
		}
		slog.Info("capture: 入力を削除しました", "session", s.id, "device", in.Device().ID, "type", mt)
	}
	for mt, in := range next.inputs {
		if cur, ok := prev.inputs[mt]; ok && cur == in {
			continue
		}
		if running {
			if err := in.Source().Start(context.Background()); err != nil {
				slog.Warn("capture: 入力の開始に失敗", "session", s.id, "device", in.Device().ID, "error", err)
				s.postRuntimeError(in, err)
			} else {
				s.startPump(in)
			}
		}
		slog.Info("capture: 入力を追加しました", "session", s.id, "device", in.Device().ID, "type", mt)
	}

	for _, out := range next.outputs {
		for _, c := range out.Connections() {
			_, ok := next.inputs[c.MediaType()]
			c.setActive(ok)
		}
	}

	s.mu.Lock()
	s.committed = next
	if s.state == StateIdle && !next.empty() {
		s.state = StateConfigured
	}
	s.mu.Unlock()
}

// StartRunning はセッションを開始する。実行中なら何もしない
func (s *Session) StartRunning(ctx context.Context) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	s.mu.RLock()
	state, cur, closed := s.state, s.committed, s.closed
	s.mu.RUnlock()

	if closed {
		return ErrSessionClosed
	}
	if state == StateRunning {
		return nil
	}
	if cur.empty() {
		return ErrNotConfigured
	}

	// 入力源は並行して開始する
	g, gctx := errgroup.WithContext(ctx)
	for _, in := range cur.inputs {
		in := in
		g.Go(func() error {
			if err := in.Source().Start(context.WithoutCancel(gctx)); err != nil {
				return fmt.Errorf("入力の開始に失敗 (%s): %w", in.Device().ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, in := range cur.inputs {
			_ = in.Source().Stop(ctx)
		}
		return err
	}

	s.startedAt = time.Now()
	for _, in := range cur.inputs {
		s.startPump(in)
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	slog.Info("capture: セッションを開始しました", "session", s.id, "inputs", len(cur.inputs), "outputs", len(cur.outputs))
	s.post(notify.SessionDidStartRunning, nil)
	return nil
}

// StopRunning はセッションを停止する。実行中でなければ何もしない
func (s *Session) StopRunning(_ context.Context) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	if s.State() != StateRunning {
		return
	}

	for mt := range s.pumps {
		s.stopPump(mt)
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	slog.Info("capture: セッションを停止しました", "session", s.id)
	s.post(notify.SessionDidStopRunning, nil)
}

// Close はセッションを停止し、全ての出力を切り離す
func (s *Session) Close(ctx context.Context) error {
	s.StopRunning(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.apply(newLayout())
	return s.router.Close()
}

// pump は1つの入力からサンプルを読み出してルーターへ流す
type pump struct {
	input  *DeviceInput
	cancel context.CancelFunc
	done   chan struct{}
}

// startPump は入力のポンプを開始する。configMu を保持して呼ぶ
func (s *Session) startPump(in *DeviceInput) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pump{input: in, cancel: cancel, done: make(chan struct{})}
	s.pumps[in.MediaType()] = p

	go s.runPump(ctx, p)
}

// stopPump は入力のポンプと入力源を停止する。configMu を保持して呼ぶ
func (s *Session) stopPump(mediaType media.MediaType) {
	p, ok := s.pumps[mediaType]
	if !ok {
		return
	}
	delete(s.pumps, mediaType)

	p.cancel()
	<-p.done
	if err := p.input.Source().Stop(context.Background()); err != nil {
		slog.Warn("capture: 入力の停止に失敗", "session", s.id, "device", p.input.Device().ID, "error", err)
	}
}

func (s *Session) runPump(ctx context.Context, p *pump) {
	defer close(p.done)

	src := p.input.Source()
	mt := p.input.MediaType()
	startedAt := s.startedAt

	for {
		select {
		case <-ctx.Done():
			return

		case sample := <-src.Frames():
			if sample.Timestamp.IsZero() {
				sample.Timestamp = time.Now()
			}
			sample.MediaType = mt
			sample.Seq = s.seq[mt].Add(1)
			sample.PTS = sample.Timestamp.Sub(startedAt)
			if sample.PTS < 0 {
				sample.PTS = 0
			}

			s.router.Publish(sample)
			p.input.Handle().ObserveSample(sample)

		case err := <-src.Errors():
			slog.Warn("capture: 入力でエラーが発生", "session", s.id, "device", p.input.Device().ID, "error", err)
			s.postRuntimeError(p.input, err)
		}
	}
}

func (s *Session) postRuntimeError(in *DeviceInput, err error) {
	s.post(notify.SessionRuntimeError, map[string]any{
		"device_id": in.Device().ID,
		"error":     err,
	})
}

func (s *Session) post(name notify.Name, info map[string]any) {
	if s.center == nil {
		return
	}
	s.center.Post(notify.Notification{Name: name, Object: s, Info: info})
}
