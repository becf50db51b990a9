package device

import (
	"context"
	"sync"

	"satsuei/internal/media"
)

// MockEnumerator はテストとシミュレーション用のEnumerator実装
type MockEnumerator struct {
	mu      sync.RWMutex
	devices []Device
}

// NewMockEnumerator は指定のデバイスを持つMockEnumeratorを作成する
func NewMockEnumerator(devices ...Device) *MockEnumerator {
	return &MockEnumerator{
		devices: append([]Device(nil), devices...),
	}
}

// NewDefaultMockEnumerator は前面カメラ・背面カメラ・マイクを持つMockEnumeratorを作成する
func NewDefaultMockEnumerator() *MockEnumerator {
	return NewMockEnumerator(
		MockCamera("mock-front", "前面カメラ", media.PositionFront),
		MockCamera("mock-back", "背面カメラ", media.PositionBack),
		MockMicrophone("mock-mic", "内蔵マイク"),
	)
}

// MockCamera はモックのカメラ情報を作成する
func MockCamera(id, name string, position media.Position) Device {
	return Device{
		ID:        id,
		Name:      name,
		Path:      id,
		Driver:    DriverMock,
		MediaType: media.MediaTypeVideo,
		Position:  position,
		Formats:   []string{media.FormatMJPEG},
		Resolutions: []Resolution{
			{Width: 640, Height: 480},
			{Width: 1280, Height: 720},
		},
	}
}

// MockMicrophone はモックのマイク情報を作成する
func MockMicrophone(id, name string) Device {
	return Device{
		ID:        id,
		Name:      name,
		Path:      id,
		Driver:    DriverMock,
		MediaType: media.MediaTypeAudio,
		Formats:   []string{media.FormatS16LE},
	}
}

// Devices はモックデバイス一覧を返す
func (m *MockEnumerator) Devices(_ context.Context, mediaType media.MediaType) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Device
	for _, d := range m.devices {
		if d.MediaType == mediaType {
			result = append(result, d)
		}
	}
	return result, nil
}

// DefaultDevice は指定メディア種別の最初のモックデバイスを返す
func (m *MockEnumerator) DefaultDevice(ctx context.Context, mediaType media.MediaType) (*Device, error) {
	devices, _ := m.Devices(ctx, mediaType)
	return defaultOf(devices, mediaType)
}

// IsDeviceAvailable はモックデバイスが存在するかチェックする
func (m *MockEnumerator) IsDeviceAvailable(_ context.Context, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// AddDevice はテスト用にデバイスを追加する。重複IDは無視する
func (m *MockEnumerator) AddDevice(d Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.devices {
		if existing.ID == d.ID {
			return
		}
	}
	m.devices = append(m.devices, d)
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockEnumerator) RemoveDevice(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d.ID == id {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return
		}
	}
}
