package capture

import (
	"fmt"

	"github.com/google/uuid"

	"satsuei/internal/device"
	"satsuei/internal/media"
	"satsuei/internal/source"
)

// DeviceInput はデバイスをセッションにつなぐ入力
type DeviceInput struct {
	id     string
	handle *device.Handle
	source source.Source
}

// NewDeviceInput はデバイスの入力源を作成して入力にする
func NewDeviceInput(handle *device.Handle, factory source.Factory) (*DeviceInput, error) {
	src, err := factory.Create(handle.Device())
	if err != nil {
		return nil, fmt.Errorf("入力の作成に失敗 (%s): %w", handle.ID(), err)
	}
	return &DeviceInput{
		id:     uuid.NewString(),
		handle: handle,
		source: src,
	}, nil
}

// ID は入力の一意なIDを返す
func (in *DeviceInput) ID() string {
	return in.id
}

// Handle はデバイスハンドルを返す
func (in *DeviceInput) Handle() *device.Handle {
	return in.handle
}

// Device はデバイス情報を返す
func (in *DeviceInput) Device() device.Device {
	return in.handle.Device()
}

// MediaType は入力のメディア種別を返す
func (in *DeviceInput) MediaType() media.MediaType {
	return in.handle.MediaType()
}

// Position はカメラの向きを返す
func (in *DeviceInput) Position() media.Position {
	return in.handle.Position()
}

// Source は入力源を返す
func (in *DeviceInput) Source() source.Source {
	return in.source
}
