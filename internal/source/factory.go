package source

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"satsuei/internal/device"
	"satsuei/internal/media"
)

// Creator は入力源作成関数の型
type Creator func(info Info, settings Settings) Source

// Factory はデバイスに対応する入力源を作成する
type Factory interface {
	Create(d device.Device) (Source, error)
	SupportedDrivers() []string
}

// DefaultFactory はドライバー名で作成関数を切り替える標準実装
type DefaultFactory struct {
	settings Settings
	creators map[string]map[bool]Creator
}

// NewFactory は v4l2, alsa, mock を登録したファクトリーを作成する
func NewFactory(settings Settings) *DefaultFactory {
	f := &DefaultFactory{
		settings: settings.withDefaults(),
		creators: make(map[string]map[bool]Creator),
	}

	f.Register(device.DriverV4L2, true, func(info Info, s Settings) Source { return NewV4L2Source(info, s) })
	f.Register(device.DriverALSA, false, func(info Info, s Settings) Source { return NewALSASource(info, s) })
	f.Register(device.DriverMock, true, func(info Info, s Settings) Source { return NewPatternSource(info, s) })
	f.Register(device.DriverMock, false, func(info Info, s Settings) Source { return NewToneSource(info, s) })

	return f
}

// Register はドライバーと映像/音声の別ごとに作成関数を登録する
func (f *DefaultFactory) Register(driver string, video bool, creator Creator) {
	if f.creators[driver] == nil {
		f.creators[driver] = make(map[bool]Creator)
	}
	f.creators[driver][video] = creator
}

// Create はデバイスの入力源を作成する
func (f *DefaultFactory) Create(d device.Device) (Source, error) {
	byKind, ok := f.creators[d.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, d.Driver)
	}
	creator, ok := byKind[d.MediaType == media.MediaTypeVideo]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedDriver, d.Driver, d.MediaType)
	}

	info := Info{
		ID:        uuid.NewString(),
		Name:      d.Name,
		Driver:    d.Driver,
		MediaType: d.MediaType,
		Device:    d.Path,
	}
	return creator(info, f.settings), nil
}

// SupportedDrivers は登録済みのドライバー名を返す
func (f *DefaultFactory) SupportedDrivers() []string {
	drivers := make([]string, 0, len(f.creators))
	for driver := range f.creators {
		drivers = append(drivers, driver)
	}
	sort.Strings(drivers)
	return drivers
}
