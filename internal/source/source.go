package source

import (
	"context"
	"errors"
	"sync"

	"satsuei/internal/media"
)

// Status は入力源の動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // 停止中
	StatusActive   Status = "active"   // 動作中
	StatusError    Status = "error"    // エラーが発生
)

var (
	// ErrFFmpegNotFound はffmpegが見つからない場合のエラー
	ErrFFmpegNotFound = errors.New("ffmpegが見つかりません")
	// ErrUnsupportedDriver は未登録のドライバーが指定された場合のエラー
	ErrUnsupportedDriver = errors.New("サポートされていないドライバー")
)

// Source は全ての入力源を統一するインターフェース
type Source interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Frames はキャプチャしたサンプルを流すチャンネルを返す
	Frames() <-chan media.SampleBuffer
	// Errors は実行中に発生したエラーを流すチャンネルを返す
	Errors() <-chan error

	Status() Status
	Info() Info
}

// Info は入力源の情報を表す
type Info struct {
	ID        string
	Name      string
	Driver    string
	MediaType media.MediaType
	Device    string // デバイスパス（/dev/video0, hw:0,0 等）
}

// Settings は入力源の設定
type Settings struct {
	Width     int
	Height    int
	FrameRate int
	Quality   int // MJPEGの -q:v（2〜31、小さいほど高品質）

	SampleRate int
	Channels   int

	FFmpegPath string
}

// DefaultSettings は既定の設定を返す
func DefaultSettings() Settings {
	return Settings{
		Width:      1280,
		Height:     720,
		FrameRate:  15,
		Quality:    3,
		SampleRate: 48000,
		Channels:   1,
		FFmpegPath: "ffmpeg",
	}
}

// withDefaults は未指定の項目を既定値で埋める
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Width <= 0 {
		s.Width = d.Width
	}
	if s.Height <= 0 {
		s.Height = d.Height
	}
	if s.FrameRate <= 0 {
		s.FrameRate = d.FrameRate
	}
	if s.Quality <= 0 {
		s.Quality = d.Quality
	}
	if s.SampleRate <= 0 {
		s.SampleRate = d.SampleRate
	}
	if s.Channels <= 0 {
		s.Channels = d.Channels
	}
	if s.FFmpegPath == "" {
		s.FFmpegPath = d.FFmpegPath
	}
	return s
}

// base は各入力源に共通する状態と起動・停止処理を提供する
type base struct {
	info     Info
	settings Settings

	frames chan media.SampleBuffer
	errs   chan error

	mu     sync.RWMutex
	status Status
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBase(info Info, settings Settings) base {
	return base{
		info:     info,
		settings: settings.withDefaults(),
		frames:   make(chan media.SampleBuffer, 10),
		errs:     make(chan error, 5),
		status:   StatusInactive,
	}
}

// Info は入力源の情報を返す
func (b *base) Info() Info {
	return b.info
}

// Status は現在の状態を返す
func (b *base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Frames はフレームチャンネルを返す
func (b *base) Frames() <-chan media.SampleBuffer {
	return b.frames
}

// Errors はエラーチャンネルを返す
func (b *base) Errors() <-chan error {
	return b.errs
}

// launch は run を別ゴルーチンで開始する。既に動作中なら何もしない
func (b *base) launch(ctx context.Context, run func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status == StatusActive {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.status = StatusActive

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		run(runCtx)
	}()
}

// halt は実行中のゴルーチンを止めて終了を待つ
func (b *base) halt() {
	b.mu.Lock()
	if b.cancel == nil {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	b.cancel = nil
	b.status = StatusInactive
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

// setStatus は状態を更新する
func (b *base) setStatus(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

// emit はサンプルを送る。チャンネルが一杯なら古いサンプルを破棄する
func (b *base) emit(sample media.SampleBuffer) {
	select {
	case b.frames <- sample:
		return
	default:
	}

	select {
	case <-b.frames:
	default:
	}
	select {
	case b.frames <- sample:
	default:
	}
}

// fail はエラーを送る。チャンネルが一杯なら古いエラーを破棄する
func (b *base) fail(err error) {
	select {
	case b.errs <- err:
		return
	default:
	}

	select {
	case <-b.errs:
	default:
	}
	select {
	case b.errs <- err:
	default:
	}
}
