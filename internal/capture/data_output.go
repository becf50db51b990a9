package capture

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"satsuei/internal/dispatch"
	"satsuei/internal/media"
	"satsuei/internal/router"
)

// SampleBufferDelegate はサンプルごとのコールバックを受け取る
//
// コールバックは SetSampleBufferDelegate で指定したシリアルキュー上で呼ばれる。
// キューを詰まらせないよう、ブロックする処理をしてはならない。
type SampleBufferDelegate interface {
	DidOutputSampleBuffer(out *DataOutput, sample media.SampleBuffer, conn *Connection)
}

// SampleBufferDropDelegate は破棄されたサンプルの通知も受け取る
type SampleBufferDropDelegate interface {
	DidDropSampleBuffer(out *DataOutput, sample media.SampleBuffer, conn *Connection)
}

// DataOutput は映像または音声のサンプルをデリゲートへ渡す出力
type DataOutput struct {
	id        string
	kind      OutputKind
	mediaType media.MediaType
	conn      *Connection

	mu       sync.Mutex
	delegate SampleBufferDelegate
	queue    *dispatch.Queue
	router   router.Router
	stop     chan struct{}
	wg       sync.WaitGroup

	// lastDropped は未通知の破棄サンプル
	lastDropped *media.SampleBuffer

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewVideoDataOutput は映像のデータ出力を作成する
func NewVideoDataOutput() *DataOutput {
	return newDataOutput(KindVideoData, media.MediaTypeVideo)
}

// NewAudioDataOutput は音声のデータ出力を作成する
func NewAudioDataOutput() *DataOutput {
	return newDataOutput(KindAudioData, media.MediaTypeAudio)
}

func newDataOutput(kind OutputKind, mediaType media.MediaType) *DataOutput {
	return &DataOutput{
		id:        uuid.NewString(),
		kind:      kind,
		mediaType: mediaType,
		conn:      NewConnection(mediaType),
	}
}

// ID は出力IDを返す
func (o *DataOutput) ID() string {
	return o.id
}

// Kind は出力の種類を返す
func (o *DataOutput) Kind() OutputKind {
	return o.kind
}

// Connections は出力の接続を返す
func (o *DataOutput) Connections() []*Connection {
	return []*Connection{o.conn}
}

// MediaType は出力のメディア種別を返す
func (o *DataOutput) MediaType() media.MediaType {
	return o.mediaType
}

// Connection は出力の接続を返す
func (o *DataOutput) Connection() *Connection {
	return o.conn
}

// SetSampleBufferDelegate はデリゲートとコールバックを呼ぶキューを設定する。
// delegate が nil ならコールバックを止める
func (o *DataOutput) SetSampleBufferDelegate(delegate SampleBufferDelegate, queue *dispatch.Queue) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if delegate == nil || queue == nil {
		o.delegate, o.queue = nil, nil
		return
	}
	o.delegate, o.queue = delegate, queue
}

// SampleBufferDelegate は現在のデリゲートを返す
func (o *DataOutput) SampleBufferDelegate() SampleBufferDelegate {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.delegate
}

// Delivered はキューに渡したサンプル数を返す
func (o *DataOutput) Delivered() uint64 {
	return o.delivered.Load()
}

// Dropped はキューが満杯で破棄したサンプル数を返す
func (o *DataOutput) Dropped() uint64 {
	return o.dropped.Load()
}

// Attach はルーターを購読してサンプルの受け取りを始める
func (o *DataOutput) Attach(r router.Router) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.router != nil {
		return ErrAlreadyAttached
	}

	ch := make(chan media.SampleBuffer, 8)
	if err := r.Subscribe(subscriptionID(o.id, o.mediaType), o.mediaType, ch); err != nil {
		return err
	}

	o.router = r
	o.stop = make(chan struct{})

	o.wg.Add(1)
	go o.run(ch, o.stop)
	return nil
}

// Detach は購読を解除する
func (o *DataOutput) Detach() {
	o.mu.Lock()
	if o.router == nil {
		o.mu.Unlock()
		return
	}
	_ = o.router.Unsubscribe(subscriptionID(o.id, o.mediaType))
	close(o.stop)
	o.router = nil
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *DataOutput) run(ch <-chan media.SampleBuffer, stop <-chan struct{}) {
	defer o.wg.Done()

	for {
		select {
		case <-stop:
			return
		case sample := <-ch:
			o.deliver(sample)
		}
	}
}

// deliver はサンプルをキューへ投入する。キューが満杯なら破棄し、
// 次にキューが受け付けたときに破棄を通知する
func (o *DataOutput) deliver(sample media.SampleBuffer) {
	if !o.conn.IsEnabled() {
		return
	}

	o.mu.Lock()
	delegate, queue := o.delegate, o.queue
	o.mu.Unlock()

	if delegate == nil {
		return
	}

	if o.lastDropped != nil {
		if dd, ok := delegate.(SampleBufferDropDelegate); ok {
			dropped := *o.lastDropped
			if queue.Async(func() { dd.DidDropSampleBuffer(o, dropped, o.conn) }) {
				o.lastDropped = nil
			}
		} else {
			o.lastDropped = nil
		}
	}

	if queue.Async(func() { delegate.DidOutputSampleBuffer(o, sample, o.conn) }) {
		o.delivered.Add(1)
		return
	}

	o.dropped.Add(1)
	o.lastDropped = &sample
}
