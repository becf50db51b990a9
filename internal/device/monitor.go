package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"satsuei/internal/media"
	"satsuei/internal/notify"
)

// Monitor はデバイスの接続・切断を定期スキャンで検知して通知する
type Monitor struct {
	enumerator   Enumerator
	center       *notify.Center
	scanInterval time.Duration

	mu      sync.Mutex
	known   map[string]Device
	running bool

	// 制御用
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor は新しいMonitorを作成する
func NewMonitor(enumerator Enumerator, center *notify.Center, scanInterval time.Duration) *Monitor {
	if scanInterval <= 0 {
		scanInterval = 5 * time.Second
	}
	return &Monitor{
		enumerator:   enumerator,
		center:       center,
		scanInterval: scanInterval,
		known:        make(map[string]Device),
	}
}

// Start は初期スキャンを行い、バックグラウンドスキャンを開始する
// 初期スキャンで見つかったデバイスは接続通知の対象にしない
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	current, err := m.scanAll(ctx)
	if err != nil {
		return err
	}
	m.known = current
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.backgroundScan(ctx, m.stopCh)

	return nil
}

// Stop はバックグラウンドスキャンを停止する
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

// Scan は即座に1回スキャンし、差分を通知する
func (m *Monitor) Scan(ctx context.Context) error {
	current, err := m.scanAll(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	var connected, disconnected []Device
	for id, d := range current {
		if _, ok := m.known[id]; !ok {
			connected = append(connected, d)
		}
	}
	for id, d := range m.known {
		if _, ok := current[id]; !ok {
			disconnected = append(disconnected, d)
		}
	}
	m.known = current
	m.mu.Unlock()

	for _, d := range connected {
		slog.Info("device: デバイスが接続されました", "id", d.ID, "name", d.Name, "type", d.MediaType)
		m.post(notify.DeviceWasConnected, d)
	}
	for _, d := range disconnected {
		slog.Info("device: デバイスが切断されました", "id", d.ID, "name", d.Name, "type", d.MediaType)
		m.post(notify.DeviceWasDisconnected, d)
	}

	return nil
}

// Known は現在把握しているデバイス一覧を返す
func (m *Monitor) Known() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.known))
	for _, d := range m.known {
		devices = append(devices, d)
	}
	return devices
}

// scanAll は全メディア種別のデバイスを取得する
func (m *Monitor) scanAll(ctx context.Context) (map[string]Device, error) {
	result := make(map[string]Device)
	for _, mt := range media.MediaTypes() {
		devices, err := m.enumerator.Devices(ctx, mt)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			result[d.ID] = d
		}
	}
	return result, nil
}

// post は通知を発行する。発行元は Monitor 自身で、デバイス情報は Info に入れる
func (m *Monitor) post(name notify.Name, d Device) {
	if m.center == nil {
		return
	}
	m.center.Post(notify.Notification{
		Name:   name,
		Object: m,
		Info: map[string]any{
			"device": d,
		},
	})
}

// backgroundScan は定期的なデバイススキャンを実行する
func (m *Monitor) backgroundScan(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Scan(ctx); err != nil {
				slog.Warn("device: デバイススキャンに失敗", "error", err)
			}
		}
	}
}

// DeviceFromNotification は接続・切断通知からデバイス情報を取り出す
func DeviceFromNotification(n notify.Notification) (Device, bool) {
	d, ok := n.Info["device"].(Device)
	return d, ok
}
