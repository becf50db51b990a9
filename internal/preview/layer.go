package preview

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"satsuei/internal/capture"
	"satsuei/internal/media"
	"satsuei/internal/router"
)

// VideoGravity は映像をレイヤーに収める方法
type VideoGravity string

const (
	GravityResizeAspect     VideoGravity = "resize_aspect"      // 縦横比を保って全体を収める
	GravityResizeAspectFill VideoGravity = "resize_aspect_fill" // 縦横比を保って埋める
	GravityResize           VideoGravity = "resize"             // 引き伸ばす
)

// Layer はセッションの映像を描画するレイヤー
//
// セッションの出力（種類 preview）として追加して使う。表示面に載っている間だけ
// 最新のフレームを保持し、描画数を数える。
type Layer struct {
	id   string
	conn *capture.Connection

	mu         sync.Mutex
	frame      Rect
	gravity    VideoGravity
	superlayer *Surface
	latest     media.SampleBuffer
	hasFrame   bool
	updated    chan struct{}

	router router.Router
	stop   chan struct{}
	wg     sync.WaitGroup

	rendered atomic.Uint64
}

// NewLayer は新しいLayerを作成する
func NewLayer() *Layer {
	return &Layer{
		id:      uuid.NewString(),
		conn:    capture.NewConnection(media.MediaTypeVideo),
		gravity: GravityResizeAspectFill,
		updated: make(chan struct{}),
	}
}

// ID は出力IDを返す
func (l *Layer) ID() string {
	return l.id
}

// Kind は出力の種類を返す
func (l *Layer) Kind() capture.OutputKind {
	return capture.KindPreview
}

// Connections は映像の接続を返す
func (l *Layer) Connections() []*capture.Connection {
	return []*capture.Connection{l.conn}
}

// Connection は映像の接続を返す
func (l *Layer) Connection() *capture.Connection {
	return l.conn
}

// Frame はレイヤーの位置と大きさを返す
func (l *Layer) Frame() Rect {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame
}

// SetFrame はレイヤーの位置と大きさを設定する
func (l *Layer) SetFrame(frame Rect) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frame = frame
}

// VideoGravity は映像の収め方を返す
func (l *Layer) VideoGravity() VideoGravity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gravity
}

// SetVideoGravity は映像の収め方を設定する
func (l *Layer) SetVideoGravity(g VideoGravity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gravity = g
}

// Superlayer はレイヤーが載っている表示面を返す。なければnil
func (l *Layer) Superlayer() *Surface {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.superlayer
}

// RemoveFromSuperlayer は表示面から外す
func (l *Layer) RemoveFromSuperlayer() {
	l.mu.Lock()
	s := l.superlayer
	l.mu.Unlock()

	if s == nil {
		return
	}
	s.remove(l)
	l.setSuperlayer(nil)
}

func (l *Layer) setSuperlayer(s *Surface) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.superlayer = s
}

// Rendered は描画したフレーム数を返す
func (l *Layer) Rendered() uint64 {
	return l.rendered.Load()
}

// Latest は最後に描画したフレームを返す
func (l *Layer) Latest() (media.SampleBuffer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest, l.hasFrame
}

// Next は afterSeq より新しいフレームが描画されるまで待って返す
func (l *Layer) Next(ctx context.Context, afterSeq uint64) (media.SampleBuffer, error) {
	for {
		l.mu.Lock()
		if l.hasFrame && l.latest.Seq > afterSeq {
			frame := l.latest
			l.mu.Unlock()
			return frame, nil
		}
		wait := l.updated
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return media.SampleBuffer{}, ctx.Err()
		case <-wait:
		}
	}
}

// Attach はルーターの映像を購読する
func (l *Layer) Attach(r router.Router) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.router != nil {
		return capture.ErrAlreadyAttached
	}

	ch := make(chan media.SampleBuffer, 2)
	if err := r.Subscribe(l.id, media.MediaTypeVideo, ch); err != nil {
		return err
	}
	l.router = r
	l.stop = make(chan struct{})

	l.wg.Add(1)
	go l.run(ch, l.stop)
	return nil
}

// Detach は購読を解除する
func (l *Layer) Detach() {
	l.mu.Lock()
	if l.router == nil {
		l.mu.Unlock()
		return
	}
	_ = l.router.Unsubscribe(l.id)
	close(l.stop)
	l.router = nil
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *Layer) run(ch <-chan media.SampleBuffer, stop <-chan struct{}) {
	defer l.wg.Done()

	for {
		select {
		case <-stop:
			return
		case sample := <-ch:
			l.render(sample)
		}
	}
}

// render は表示面に載っている間だけフレームを保持して待機中の読み手を起こす
func (l *Layer) render(sample media.SampleBuffer) {
	if !l.conn.IsEnabled() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.superlayer == nil {
		return
	}
	l.latest = sample
	l.hasFrame = true
	close(l.updated)
	l.updated = make(chan struct{})
	l.rendered.Add(1)
}
