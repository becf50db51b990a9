// Package notify はプロセス内の通知センターを提供する
//
// デバイスやセッションが発行する通知（被写体領域の変化、デバイスの接続・切断、
// セッションの開始・停止など）を、名前と発行元オブジェクトで購読できる。
// 配信は発行したゴルーチン上で同期的に行われるため、ハンドラはブロックしてはならない。
package notify

import (
	"sync"
)

// Name は通知の名前
type Name string

const (
	SubjectAreaDidChange   Name = "SubjectAreaDidChange"   // 被写体領域が変化した
	DeviceWasConnected     Name = "DeviceWasConnected"     // デバイスが接続された
	DeviceWasDisconnected  Name = "DeviceWasDisconnected"  // デバイスが切断された
	SessionRuntimeError    Name = "SessionRuntimeError"    // セッション実行中のエラー
	SessionDidStartRunning Name = "SessionDidStartRunning" // セッション開始
	SessionDidStopRunning  Name = "SessionDidStopRunning"  // セッション停止
)

// Notification は配信される通知
type Notification struct {
	Name   Name
	Object any            // 発行元。比較可能な値（通常はポインタ）であること
	Info   map[string]any // 追加情報
}

// Handler は通知を受け取る関数
type Handler func(Notification)

// Token はオブザーバー登録を識別する
type Token struct {
	id uint64
}

// IsZero は未登録のトークンかどうかを返す
func (t Token) IsZero() bool {
	return t.id == 0
}

type observer struct {
	name    Name
	object  any
	handler Handler
}

// Center は通知の登録と配信を管理する
type Center struct {
	mu        sync.RWMutex
	observers map[uint64]observer
	nextID    uint64
}

// NewCenter は新しいCenterを作成する
func NewCenter() *Center {
	return &Center{
		observers: make(map[uint64]observer),
	}
}

// AddObserver は通知の購読を登録する。objectがnilの場合は全ての発行元の通知を受け取る
func (c *Center) AddObserver(name Name, object any, handler Handler) Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.observers[c.nextID] = observer{
		name:    name,
		object:  object,
		handler: handler,
	}
	return Token{id: c.nextID}
}

// RemoveObserver は購読を解除する。未登録のトークンは無視する
func (c *Center) RemoveObserver(token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.observers, token.id)
}

// Post は通知を該当するオブザーバーに配信する
func (c *Center) Post(n Notification) {
	// ハンドラ内での登録・解除を許すため、ロック外で呼び出す
	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.observers))
	for _, o := range c.observers {
		if o.name != n.Name {
			continue
		}
		if o.object != nil && o.object != n.Object {
			continue
		}
		handlers = append(handlers, o.handler)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(n)
	}
}

// ObserverCount は登録中のオブザーバー数を返す
func (c *Center) ObserverCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.observers)
}
