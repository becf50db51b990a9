package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"satsuei/internal/dispatch"
	"satsuei/internal/media"
	"satsuei/internal/mux"
	"satsuei/internal/router"
)

var (
	// ErrAlreadyRecording は記録中に記録を開始しようとした場合のエラー
	ErrAlreadyRecording = errors.New("既に記録中です")
	// ErrNotConnected はセッションに追加されていない出力で記録しようとした場合のエラー
	ErrNotConnected = errors.New("出力がセッションに接続されていません")
	// ErrOutputRemoved は記録中に出力がセッションから削除された場合のエラー
	ErrOutputRemoved = errors.New("記録中に出力が削除されました")
)

// RecordingDelegate は記録の開始と終了の通知を受け取る
type RecordingDelegate interface {
	DidStartRecording(out *MovieFileOutput, path string, conns []*Connection)
	// DidFinishRecording はファイルを閉じた後に呼ばれる。err が nil なら成功
	DidFinishRecording(out *MovieFileOutput, path string, duration time.Duration, conns []*Connection, err error)
}

// MovieFileOutput はサンプルを動画ファイルに記録する出力
//
// 記録は専用のゴルーチンで行い、デリゲートへの通知はデリゲートキュー上で行う。
type MovieFileOutput struct {
	id      string
	factory mux.Factory
	queue   *dispatch.Queue
	video   *Connection
	audio   *Connection

	mu     sync.Mutex
	router router.Router
	stop   chan struct{}
	wg     sync.WaitGroup
	rec    *recording

	// pending はパスごとの確定処理中を含む記録
	pending map[string]*recording
	// last は最後に終わった記録の長さ
	last time.Duration

	// writers は確定処理中を含む記録ゴルーチン
	writers sync.WaitGroup
}

// NewMovieFileOutput は新しいMovieFileOutputを作成する。
// queue が nil なら専用のデリゲートキューを作る
func NewMovieFileOutput(factory mux.Factory, queue *dispatch.Queue) *MovieFileOutput {
	if queue == nil {
		queue = dispatch.NewQueue("movie-file-output.delegate", 0)
	}
	return &MovieFileOutput{
		id:      uuid.NewString(),
		factory: factory,
		queue:   queue,
		video:   NewConnection(media.MediaTypeVideo),
		audio:   NewConnection(media.MediaTypeAudio),
		pending: make(map[string]*recording),
	}
}

// ID は出力IDを返す
func (o *MovieFileOutput) ID() string {
	return o.id
}

// Kind は出力の種類を返す
func (o *MovieFileOutput) Kind() OutputKind {
	return KindMovieFile
}

// Connections は映像と音声の接続を返す
func (o *MovieFileOutput) Connections() []*Connection {
	return []*Connection{o.video, o.audio}
}

// Attach はルーターの映像と音声を購読する
func (o *MovieFileOutput) Attach(r router.Router) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.router != nil {
		return ErrAlreadyAttached
	}

	// 映像と音声を1つのチャンネルで受けて到着順に記録する
	ch := make(chan media.SampleBuffer, 64)
	for _, mt := range media.MediaTypes() {
		if err := r.Subscribe(subscriptionID(o.id, mt), mt, ch); err != nil {
			for _, done := range media.MediaTypes() {
				if done == mt {
					break
				}
				_ = r.Unsubscribe(subscriptionID(o.id, done))
			}
			return err
		}
	}

	o.router = r
	o.stop = make(chan struct{})

	o.wg.Add(1)
	go o.run(ch, o.stop)
	return nil
}

// Detach は購読を解除する。記録中なら ErrOutputRemoved で記録を終える
func (o *MovieFileOutput) Detach() {
	o.mu.Lock()
	if o.router == nil {
		o.mu.Unlock()
		return
	}
	for _, mt := range media.MediaTypes() {
		_ = o.router.Unsubscribe(subscriptionID(o.id, mt))
	}
	close(o.stop)
	o.router = nil

	rec := o.rec
	o.rec = nil
	o.mu.Unlock()

	o.wg.Wait()
	if rec != nil {
		rec.finish(ErrOutputRemoved)
	}
}

// StartRecording は指定パスへの記録を開始する。
// 同じパスの前回の記録が確定処理中なら、その終了通知が済むまで待つ。
// そのため終了通知のデリゲートから同じパスで呼んではならない
func (o *MovieFileOutput) StartRecording(path string, delegate RecordingDelegate) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for {
		if o.router == nil {
			return ErrNotConnected
		}
		if o.rec != nil {
			return ErrAlreadyRecording
		}
		prev, ok := o.pending[path]
		if !ok {
			break
		}
		o.mu.Unlock()
		slog.Debug("capture: 前回の記録の確定を待っています", "path", path)
		<-prev.done
		o.mu.Lock()
	}

	muxer, err := o.factory.Create(path)
	if err != nil {
		return fmt.Errorf("記録ファイルの準備に失敗: %w", err)
	}

	rec := &recording{
		output:   o,
		path:     path,
		delegate: delegate,
		muxer:    muxer,
		samples:  make(chan media.SampleBuffer, 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	o.rec = rec
	o.pending[path] = rec

	o.writers.Add(1)
	go func() {
		defer o.writers.Done()
		rec.write()
	}()

	slog.Info("capture: 記録を開始しました", "path", path, "container", o.factory.Container())
	if delegate != nil {
		if !o.queue.Async(func() { delegate.DidStartRecording(o, path, o.Connections()) }) {
			slog.Warn("capture: 記録開始の通知に失敗", "path", path)
		}
	}
	return nil
}

// StopRecording は記録を停止する。
// 溜まっているサンプルを書き終えてからファイルを閉じ、デリゲートへ通知する。
// 確定処理は非同期に行われ、完了は DidFinishRecording で通知される
func (o *MovieFileOutput) StopRecording() {
	o.mu.Lock()
	rec := o.rec
	o.rec = nil
	o.mu.Unlock()

	if rec != nil {
		rec.finish(nil)
	}
}

// Wait は確定処理中の記録が全て終わるまで待つ
func (o *MovieFileOutput) Wait() {
	o.writers.Wait()
}

// IsRecording は記録中かどうかを返す
func (o *MovieFileOutput) IsRecording() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rec != nil
}

// OutputPath は記録中のファイルパスを返す
func (o *MovieFileOutput) OutputPath() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rec == nil {
		return ""
	}
	return o.rec.path
}

// RecordedDuration は記録中の長さを返す。記録中でなければ最後の記録の長さ
func (o *MovieFileOutput) RecordedDuration() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rec != nil {
		return o.rec.Duration()
	}
	return o.last
}

func (o *MovieFileOutput) run(ch <-chan media.SampleBuffer, stop <-chan struct{}) {
	defer o.wg.Done()

	for {
		select {
		case <-stop:
			return
		case sample := <-ch:
			conn := o.video
			if sample.MediaType == media.MediaTypeAudio {
				conn = o.audio
			}
			if !conn.IsEnabled() {
				continue
			}

			o.mu.Lock()
			rec := o.rec
			o.mu.Unlock()

			if rec != nil {
				rec.push(sample)
			}
		}
	}
}

// finished は記録中の recording が自ら終了したときに外す
func (o *MovieFileOutput) finished(rec *recording) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rec == rec {
		o.rec = nil
	}
}

// finalized は確定処理と終了通知を終えた recording を外す
func (o *MovieFileOutput) finalized(rec *recording) {
	o.mu.Lock()
	if o.pending[rec.path] == rec {
		delete(o.pending, rec.path)
	}
	o.last = rec.Duration()
	o.mu.Unlock()
	close(rec.done)
}

// recording は1回分の記録
type recording struct {
	output   *MovieFileOutput
	path     string
	delegate RecordingDelegate
	muxer    mux.Muxer

	samples chan media.SampleBuffer
	stop    chan struct{}
	// done は確定処理と終了通知が済むと閉じる
	done chan struct{}

	once   sync.Once
	reason error

	duration atomic.Int64
	dropped  atomic.Uint64
}

// Duration は書き込んだサンプルの長さを返す
func (r *recording) Duration() time.Duration {
	return time.Duration(r.duration.Load())
}

// push はサンプルを記録用バッファへ入れる。満杯なら破棄する
func (r *recording) push(sample media.SampleBuffer) {
	select {
	case r.samples <- sample:
	default:
		r.dropped.Add(1)
	}
}

// finish は記録の終了を指示する
func (r *recording) finish(reason error) {
	r.once.Do(func() {
		r.reason = reason
		close(r.stop)
	})
}

func (r *recording) write() {
	defer r.output.finalized(r)

	var (
		base     time.Duration
		started  bool
		writeErr error
	)

	writeSample := func(sample media.SampleBuffer) {
		if writeErr != nil {
			return
		}
		if !started {
			base = sample.PTS
			started = true
		}
		sample.PTS -= base
		if sample.PTS < 0 {
			sample.PTS = 0
		}
		if err := r.muxer.WriteSample(sample); err != nil {
			writeErr = fmt.Errorf("サンプルの書き込みに失敗: %w", err)
			return
		}
		if end := sample.PTS + sample.Duration(); end > r.Duration() {
			r.duration.Store(int64(end))
		}
	}

loop:
	for {
		select {
		case <-r.stop:
			break loop
		case sample := <-r.samples:
			writeSample(sample)
			if writeErr != nil {
				// 書き込みに失敗したら記録を打ち切る
				r.output.finished(r)
				r.once.Do(func() { close(r.stop) })
				break loop
			}
		}
	}

	// バッファに残っているサンプルを書き出す
drain:
	for writeErr == nil {
		select {
		case sample := <-r.samples:
			writeSample(sample)
		default:
			break drain
		}
	}

	err := r.reason
	if writeErr != nil {
		err = writeErr
	}
	if cerr := r.muxer.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("記録ファイルの確定に失敗: %w", cerr)
	}

	if n := r.dropped.Load(); n > 0 {
		slog.Warn("capture: 記録中にサンプルを破棄しました", "path", r.path, "dropped", n)
	}
	if err != nil {
		slog.Warn("capture: 記録が異常終了しました", "path", r.path, "error", err)
	} else {
		slog.Info("capture: 記録を終了しました", "path", r.path, "duration", r.Duration())
	}

	if r.delegate == nil {
		return
	}
	out, path, delegate, duration := r.output, r.path, r.delegate, r.Duration()
	if qerr := out.queue.Sync(func() { delegate.DidFinishRecording(out, path, duration, out.Connections(), err) }); qerr != nil {
		slog.Warn("capture: 記録終了の通知に失敗", "path", path, "error", qerr)
	}
}
