package device

import (
	"context"
	"errors"
	"fmt"

	"satsuei/internal/media"
)

// ドライバー名
const (
	DriverV4L2 = "v4l2" // Linuxカメラ
	DriverALSA = "alsa" // Linuxマイク
	DriverMock = "mock" // シミュレーション
)

var (
	// ErrDeviceNotFound は該当するデバイスがない場合に返される
	ErrDeviceNotFound = errors.New("デバイスが見つかりません")

	// ErrDeviceLocked は既にロックされているデバイスをロックしようとした場合に返される
	ErrDeviceLocked = errors.New("デバイスは既にロックされています")

	// ErrNotLocked はロックせずにプロパティを変更しようとした場合に返される
	ErrNotLocked = errors.New("デバイスがロックされていません")

	// ErrUnsupported はデバイスが対応していない設定の場合に返される
	ErrUnsupported = errors.New("デバイスが対応していない設定です")
)

// Device はキャプチャデバイスの静的な情報を表す
type Device struct {
	ID          string          // デバイスの一意識別子
	Name        string          // 表示名
	Path        string          // デバイスパス（例: /dev/video0, hw:0,0）
	Driver      string          // ドライバー名
	MediaType   media.MediaType // 映像または音声
	Position    media.Position  // カメラの向き（マイクは不明）
	Formats     []string        // サポートされるフォーマット
	Resolutions []Resolution    // サポートされる解像度（カメラのみ）
}

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int
	Height int
}

// Enumerator はデバイスの列挙機能を提供する
type Enumerator interface {
	// Devices は指定メディア種別の利用可能なデバイス一覧を返す
	Devices(ctx context.Context, mediaType media.MediaType) ([]Device, error)

	// DefaultDevice は指定メディア種別の既定のデバイスを返す
	DefaultDevice(ctx context.Context, mediaType media.MediaType) (*Device, error)

	// IsDeviceAvailable は指定IDのデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, id string) bool
}

// FindByPosition はデバイス一覧から指定の向きの最初のデバイスを返す
func FindByPosition(devices []Device, position media.Position) (*Device, bool) {
	for i := range devices {
		if devices[i].Position == position {
			d := devices[i]
			return &d, true
		}
	}
	return nil, false
}

// defaultOf は一覧の先頭を既定のデバイスとして返す
func defaultOf(devices []Device, mediaType media.MediaType) (*Device, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, mediaType)
	}
	d := devices[0]
	return &d, nil
}
