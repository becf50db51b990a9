// Package dispatch はラベル付きのシリアル実行キューを提供する
//
// キューに投入されたタスクは1つのゴルーチン上で投入順に実行される。
// メディア種別ごとにキューを分けることで、コールバックの順序を種別単位で保証する。
package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed はクローズ済みのキューに投入した場合に返される
var ErrQueueClosed = errors.New("キューはクローズされています")

// DefaultDepth はキューの既定の長さ
const DefaultDepth = 32

// Queue はシリアル実行キュー
type Queue struct {
	label string
	tasks chan func()
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	executed atomic.Uint64
	rejected atomic.Uint64
}

// NewQueue は新しいQueueを作成し、実行ゴルーチンを開始する
func NewQueue(label string, depth int) *Queue {
	if depth <= 0 {
		depth = DefaultDepth
	}

	q := &Queue{
		label: label,
		tasks: make(chan func(), depth),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

// Label はキューのラベルを返す
func (q *Queue) Label() string {
	return q.label
}

// Async はタスクをブロックせずに投入する。
// キューが満杯またはクローズ済みの場合はfalseを返す
func (q *Queue) Async(task func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.rejected.Add(1)
		return false
	}

	select {
	case q.tasks <- task:
		return true
	default:
		q.rejected.Add(1)
		return false
	}
}

// Sync はタスクを投入し、実行完了まで待つ。
// キュー上で実行中のタスクから呼ぶとデッドロックする
func (q *Queue) Sync(task func()) error {
	finished := make(chan struct{})

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.tasks <- func() {
		defer close(finished)
		task()
	}
	q.mu.RUnlock()

	<-finished
	return nil
}

// Close は新規投入を止め、投入済みのタスクを実行し終えるまで待つ
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	<-q.done
}

// Executed は実行済みタスク数を返す
func (q *Queue) Executed() uint64 {
	return q.executed.Load()
}

// Rejected は投入を拒否したタスク数を返す
func (q *Queue) Rejected() uint64 {
	return q.rejected.Load()
}

// run はタスクを投入順に実行する
func (q *Queue) run() {
	defer close(q.done)

	for task := range q.tasks {
		task()
		q.executed.Add(1)
	}
}
