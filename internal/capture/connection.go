package capture

import (
	"sync"

	"satsuei/internal/media"
)

// StabilizationMode は手ぶれ補正のモード
type StabilizationMode int

const (
	StabilizationOff      StabilizationMode = iota // 補正なし
	StabilizationStandard                          // 標準
	StabilizationCinematic                         // 強め
	StabilizationAuto                              // デバイスに任せる
)

func (m StabilizationMode) String() string {
	switch m {
	case StabilizationStandard:
		return "standard"
	case StabilizationCinematic:
		return "cinematic"
	case StabilizationAuto:
		return "auto"
	default:
		return "off"
	}
}

// Connection は出力とメディア種別の間の接続
type Connection struct {
	mediaType media.MediaType

	mu        sync.RWMutex
	enabled   bool
	active    bool
	preferred StabilizationMode
}

// NewConnection は有効状態の接続を作成する
func NewConnection(mediaType media.MediaType) *Connection {
	return &Connection{mediaType: mediaType, enabled: true}
}

// MediaType は接続のメディア種別を返す
func (c *Connection) MediaType() media.MediaType {
	return c.mediaType
}

// IsEnabled はサンプルを流すかどうかを返す
func (c *Connection) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled は接続の有効・無効を切り替える
func (c *Connection) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// IsActive は対応する入力がセッションにあるかを返す
func (c *Connection) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// IsVideoStabilizationSupported は手ぶれ補正を設定できるかを返す
func (c *Connection) IsVideoStabilizationSupported() bool {
	return c.mediaType == media.MediaTypeVideo
}

// PreferredVideoStabilizationMode は希望する手ぶれ補正モードを返す
func (c *Connection) PreferredVideoStabilizationMode() StabilizationMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.preferred
}

// SetPreferredVideoStabilizationMode は手ぶれ補正モードを設定する。
// 映像以外の接続では無視する
func (c *Connection) SetPreferredVideoStabilizationMode(mode StabilizationMode) {
	if !c.IsVideoStabilizationSupported() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preferred = mode
}

// ActiveVideoStabilizationMode は実際に適用されている手ぶれ補正モードを返す
func (c *Connection) ActiveVideoStabilizationMode() StabilizationMode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.mediaType != media.MediaTypeVideo || !c.active {
		return StabilizationOff
	}
	if c.preferred == StabilizationAuto {
		return StabilizationStandard
	}
	return c.preferred
}

func (c *Connection) setActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = active
}
