// Package router はキャプチャしたサンプルを登録済みの消費者へ配信する
//
// 入力から発行されたサンプルは、同じメディア種別を購読している全ての
// 消費者チャンネルへファンアウトされる。消費者のチャンネルが満杯の場合は
// そのサンプルを破棄して数えるだけで、発行側は決してブロックしない。
//
// 発行はメディア種別ごとに直列化されるため、各消費者は到着順にサンプルを受け取る。
package router

import (
	"errors"
	"sync"
	"sync/atomic"

	"satsuei/internal/media"
)

// Router はサンプルを消費者へ配信する
type Router interface {
	// Subscribe は指定メディア種別のサンプルを受け取るチャンネルを登録する
	Subscribe(id string, mediaType media.MediaType, ch chan<- media.SampleBuffer) error

	// Unsubscribe は購読を解除する
	Unsubscribe(id string) error

	// Publish はサンプルを該当する全消費者へ配信する（ノンブロッキング）
	Publish(sample media.SampleBuffer)

	// Stats は統計情報のスナップショットを返す
	Stats() Stats

	// Close はルーターを停止する。購読者のチャンネルはクローズしない
	Close() error
}

var (
	// ErrSubscriberExists は同じIDで二重に購読した場合に返される
	ErrSubscriberExists = errors.New("購読者IDは既に登録されています")

	// ErrSubscriberNotFound は未登録のIDを解除しようとした場合に返される
	ErrSubscriberNotFound = errors.New("購読者IDが見つかりません")

	// ErrRouterClosed はクローズ済みのルーターを操作した場合に返される
	ErrRouterClosed = errors.New("ルーターはクローズされています")

	// ErrNilChannel はnilチャンネルを登録しようとした場合に返される
	ErrNilChannel = errors.New("購読チャンネルがnilです")
)

// Stats はルーター全体と購読者ごとの統計
type Stats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    map[string]SubscriberStats
}

// SubscriberStats は購読者ごとの統計
type SubscriberStats struct {
	MediaType media.MediaType
	Sent      uint64
	Dropped   uint64
}

type subscriber struct {
	mediaType media.MediaType
	ch        chan<- media.SampleBuffer
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

type router struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	// メディア種別ごとの発行ロック
	publishMu [2]sync.Mutex

	totalPublished atomic.Uint64
}

// New は新しいRouterを作成する
func New() Router {
	return &router{
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe は指定メディア種別のサンプルを受け取るチャンネルを登録する
func (r *router) Subscribe(id string, mediaType media.MediaType, ch chan<- media.SampleBuffer) error {
	if ch == nil {
		return ErrNilChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	if _, exists := r.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	r.subscribers[id] = &subscriber{
		mediaType: mediaType,
		ch:        ch,
	}
	return nil
}

// Unsubscribe は購読を解除する
func (r *router) Unsubscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	if _, exists := r.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(r.subscribers, id)
	return nil
}

// Publish はサンプルを該当する全消費者へ配信する
//
// チャンネルに空きがあれば送信し、満杯なら破棄して Dropped を加算する。
// クローズ済みの場合は何もしない。
func (r *router) Publish(sample media.SampleBuffer) {
	if int(sample.MediaType) < 0 || int(sample.MediaType) >= len(r.publishMu) {
		return
	}

	pm := &r.publishMu[sample.MediaType]
	pm.Lock()
	defer pm.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	r.totalPublished.Add(1)

	for _, sub := range r.subscribers {
		if sub.mediaType != sample.MediaType {
			continue
		}
		select {
		case sub.ch <- sample:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

// Stats は統計情報のスナップショットを返す
func (r *router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := Stats{
		TotalPublished: r.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(r.subscribers)),
	}

	for id, sub := range r.subscribers {
		sent := sub.sent.Load()
		dropped := sub.dropped.Load()

		result.TotalSent += sent
		result.TotalDropped += dropped
		result.Subscribers[id] = SubscriberStats{
			MediaType: sub.mediaType,
			Sent:      sent,
			Dropped:   dropped,
		}
	}

	return result
}

// Close はルーターを停止する。冪等
func (r *router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	return nil
}
