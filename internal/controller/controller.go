// Package controller は撮影画面の操作をまとめる
//
// キャプチャセッションに入力と出力をつなぎ、プレビュー表示と動画の記録、
// カメラの切り替え、デバイス通知の購読を行う。
// 操作の失敗は呼び出し元へ返さずにログへ記録し、その手順だけを飛ばす。
// 結果の状態は Status で確認する。
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"satsuei/internal/capture"
	"satsuei/internal/config"
	"satsuei/internal/device"
	"satsuei/internal/dispatch"
	"satsuei/internal/library"
	"satsuei/internal/media"
	"satsuei/internal/mux"
	"satsuei/internal/notify"
	"satsuei/internal/preview"
	"satsuei/internal/source"
)

// デリゲートキューの深さ
const (
	videoQueueDepth = 8
	audioQueueDepth = 32
	movieQueueDepth = 4
)

// DefaultBounds はプレビュー表示面の既定の大きさ
var DefaultBounds = preview.Rect{Width: 1280, Height: 720}

// Options はコントローラーの依存関係
type Options struct {
	Enumerator device.Enumerator
	Sources    source.Factory
	Muxers     mux.Factory

	// Saver は記録後の保存先。nilなら保存しない library.Nop
	Saver library.Saver
	// Fs は記録先ディレクトリの作成に使う。nilならOSのファイルシステム
	Fs afero.Fs

	DocumentDir  string
	FileName     string
	Bounds       preview.Rect
	ScanInterval time.Duration
}

// Controller は撮影画面のコントローラー
type Controller struct {
	enumerator device.Enumerator
	sources    source.Factory
	saver      library.Saver
	outputPath string

	center  *notify.Center
	session *capture.Session
	monitor *device.Monitor

	surface *preview.Surface
	layer   *preview.Layer

	videoQueue  *dispatch.Queue
	audioQueue  *dispatch.Queue
	movieQueue  *dispatch.Queue
	videoOutput *capture.DataOutput
	audioOutput *capture.DataOutput
	movieOutput *capture.MovieFileOutput

	// mu は画面操作を直列化する
	mu         sync.Mutex
	videoInput *capture.DeviceInput
	audioInput *capture.DeviceInput
	appeared   bool
	observers  []notify.Token
	subject    notify.Token
	closed     bool

	recMu sync.Mutex
	last  *RecordingResult
}

// New は新しいControllerを作成する
func New(opts Options) (*Controller, error) {
	if opts.Enumerator == nil || opts.Sources == nil || opts.Muxers == nil {
		return nil, errors.New("デバイス列挙、入力源、Muxerのファクトリーは必須です")
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Saver == nil {
		opts.Saver = library.Nop{}
	}
	if opts.FileName == "" {
		opts.FileName = "movie.mp4"
	}
	if opts.Bounds == (preview.Rect{}) {
		opts.Bounds = DefaultBounds
	}
	if opts.DocumentDir != "" {
		if err := opts.Fs.MkdirAll(opts.DocumentDir, 0o755); err != nil {
			return nil, fmt.Errorf("記録先ディレクトリの作成に失敗: %w", err)
		}
	}

	center := notify.NewCenter()
	c := &Controller{
		enumerator:  opts.Enumerator,
		sources:     opts.Sources,
		saver:       opts.Saver,
		outputPath:  filepath.Join(opts.DocumentDir, opts.FileName),
		center:      center,
		session:     capture.NewSession(nil, center),
		monitor:     device.NewMonitor(opts.Enumerator, center, opts.ScanInterval),
		surface:     preview.NewSurface(opts.Bounds),
		layer:       preview.NewLayer(),
		videoQueue:  dispatch.NewQueue("video", videoQueueDepth),
		audioQueue:  dispatch.NewQueue("audio", audioQueueDepth),
		movieQueue:  dispatch.NewQueue("movie", movieQueueDepth),
		videoOutput: capture.NewVideoDataOutput(),
		audioOutput: capture.NewAudioDataOutput(),
	}
	c.movieOutput = capture.NewMovieFileOutput(opts.Muxers, c.movieQueue)

	return c, nil
}

// NewFromConfig は設定からControllerを作成する
func NewFromConfig(ctx context.Context, cfg *config.Config, fs afero.Fs) (*Controller, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	muxers, err := mux.NewFactory(mux.Options{
		Container:  cfg.Recording.Container,
		FFmpegPath: cfg.Capture.FFmpegPath,
		FrameRate:  cfg.Capture.FrameRate,
		Quality:    cfg.Recording.Quality,
		Fs:         fs,
	})
	if err != nil {
		return nil, err
	}

	saver, err := library.New(ctx, library.Config{
		Backend:  cfg.Library.Backend,
		Dir:      cfg.LibraryDir(),
		Bucket:   cfg.Library.Bucket,
		Prefix:   cfg.Library.Prefix,
		Region:   cfg.Library.Region,
		Endpoint: cfg.Library.Endpoint,
	}, fs)
	if err != nil {
		return nil, fmt.Errorf("保存先の初期化に失敗: %w", err)
	}

	return New(Options{
		Enumerator: newEnumerator(cfg.Capture),
		Sources: source.NewFactory(source.Settings{
			Width:      cfg.Capture.Width,
			Height:     cfg.Capture.Height,
			FrameRate:  cfg.Capture.FrameRate,
			Quality:    cfg.Capture.Quality,
			SampleRate: cfg.Capture.SampleRate,
			Channels:   cfg.Capture.Channels,
			FFmpegPath: cfg.Capture.FFmpegPath,
		}),
		Muxers:       muxers,
		Saver:        saver,
		Fs:           fs,
		DocumentDir:  cfg.Recording.DocumentDir,
		FileName:     cfg.Recording.FileName,
		ScanInterval: cfg.Capture.ScanInterval,
	})
}

// newEnumerator は設定のドライバーに応じたデバイス列挙を作成する
func newEnumerator(cfg config.CaptureConfig) device.Enumerator {
	if cfg.Driver == "mock" {
		return device.NewDefaultMockEnumerator()
	}

	positions := make(map[string]media.Position)
	names := make(map[string]string)
	for _, cam := range cfg.Cameras {
		if pos, err := media.ParsePosition(cam.Position); err == nil {
			positions[cam.Device] = pos
		}
		if cam.Name != "" {
			names[cam.Device] = cam.Name
		}
	}
	return device.NewLinuxEnumerator(positions, names)
}

// Session はキャプチャセッションを返す
func (c *Controller) Session() *capture.Session {
	return c.session
}

// Surface はプレビュー表示面を返す
func (c *Controller) Surface() *preview.Surface {
	return c.surface
}

// PreviewLayer はプレビューレイヤーを返す
func (c *Controller) PreviewLayer() *preview.Layer {
	return c.layer
}

// Center は通知センターを返す
func (c *Controller) Center() *notify.Center {
	return c.center
}

// OutputPath は記録ファイルのパスを返す
func (c *Controller) OutputPath() string {
	return c.outputPath
}

// Devices は接続されているカメラとマイクを返す
func (c *Controller) Devices(ctx context.Context) ([]DeviceInfo, error) {
	var result []DeviceInfo
	for _, mt := range media.MediaTypes() {
		devices, err := c.enumerator.Devices(ctx, mt)
		if err != nil {
			return nil, fmt.Errorf("%sデバイスの取得に失敗: %w", mt, err)
		}
		for _, d := range devices {
			result = append(result, newDeviceInfo(d))
		}
	}
	return result, nil
}

// Close は記録とセッションを止めて全ての資源を解放する
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.stopObserving()
	c.monitor.Stop()

	c.movieOutput.StopRecording()
	c.movieOutput.Wait()
	c.layer.RemoveFromSuperlayer()

	err := c.session.Close(ctx)
	// 出力の削除で終わった記録の通知を待つ
	c.movieOutput.Wait()

	c.videoQueue.Close()
	c.audioQueue.Close()
	c.movieQueue.Close()

	slog.Info("controller: 終了しました")
	return err
}

// findCamera は指定の向きのカメラを探す
func (c *Controller) findCamera(ctx context.Context, position media.Position) (*device.Device, bool) {
	devices, err := c.enumerator.Devices(ctx, media.MediaTypeVideo)
	if err != nil {
		slog.Warn("controller: カメラ一覧の取得に失敗", "error", err)
		return nil, false
	}
	return device.FindByPosition(devices, position)
}

// newInput はデバイスを開いて入力を作る
func (c *Controller) newInput(d device.Device) (*capture.DeviceInput, bool) {
	in, err := capture.NewDeviceInput(device.Open(d, c.center), c.sources)
	if err != nil {
		slog.Warn("controller: 入力の作成に失敗", "device", d.ID, "error", err)
		return nil, false
	}
	return in, true
}

// setupVideo はフロントカメラの入力と映像のデータ出力をつなぐ。mu を保持して呼ぶ
func (c *Controller) setupVideo(ctx context.Context) {
	if c.videoInput == nil {
		d, ok := c.findCamera(ctx, media.PositionFront)
		if !ok {
			slog.Warn("controller: フロントカメラが見つかりません")
			return
		}
		in, ok := c.newInput(*d)
		if !ok {
			return
		}
		if !c.session.CanAddInput(in) {
			slog.Warn("controller: カメラ入力を追加できません", "device", d.ID)
			return
		}
		if err := c.session.AddInput(in); err != nil {
			slog.Warn("controller: カメラ入力の追加に失敗", "device", d.ID, "error", err)
			return
		}
		c.videoInput = in
	}

	c.videoOutput.SetSampleBufferDelegate(sampleLogger{}, c.videoQueue)
	c.addOutput(c.videoOutput)
}

// setupAudio は既定のマイクの入力と音声のデータ出力をつなぐ。mu を保持して呼ぶ
func (c *Controller) setupAudio(ctx context.Context) {
	if c.audioInput == nil {
		d, err := c.enumerator.DefaultDevice(ctx, media.MediaTypeAudio)
		if err != nil {
			slog.Warn("controller: マイクが見つかりません", "error", err)
			return
		}
		in, ok := c.newInput(*d)
		if !ok {
			return
		}
		if !c.session.CanAddInput(in) {
			slog.Warn("controller: マイク入力を追加できません", "device", d.ID)
			return
		}
		if err := c.session.AddInput(in); err != nil {
			slog.Warn("controller: マイク入力の追加に失敗", "device", d.ID, "error", err)
			return
		}
		c.audioInput = in
	}

	c.audioOutput.SetSampleBufferDelegate(sampleLogger{}, c.audioQueue)
	c.addOutput(c.audioOutput)
}

// setupMovieOutput は記録用の出力をつなぎ、手ぶれ補正を自動にする。mu を保持して呼ぶ
func (c *Controller) setupMovieOutput() {
	c.addOutput(c.movieOutput)

	conn := capture.ConnectionFor(c.movieOutput, media.MediaTypeVideo)
	if conn != nil && conn.IsVideoStabilizationSupported() {
		conn.SetPreferredVideoStabilizationMode(capture.StabilizationAuto)
	}
}

// setupPreview はプレビューレイヤーを表示面の最も奥に置く。mu を保持して呼ぶ
func (c *Controller) setupPreview() {
	c.addOutput(c.layer)
	c.layer.SetFrame(c.surface.Bounds())
	c.surface.InsertSublayer(c.layer, 0)
}

// addOutput はセッションにない出力だけを追加する
func (c *Controller) addOutput(out capture.Output) {
	if !c.session.CanAddOutput(out) {
		return
	}
	if err := c.session.AddOutput(out); err != nil {
		slog.Warn("controller: 出力の追加に失敗", "kind", out.Kind(), "error", err)
	}
}

// startRunning はセッションを開始する。失敗はログに残す
func (c *Controller) startRunning(ctx context.Context) bool {
	if err := c.session.StartRunning(ctx); err != nil {
		slog.Warn("controller: セッションの開始に失敗", "error", err)
		return false
	}
	return true
}

// startRecording は記録を開始する。失敗はログに残す
func (c *Controller) startRecording(delegate capture.RecordingDelegate) {
	if err := c.movieOutput.StartRecording(c.outputPath, delegate); err != nil {
		slog.Warn("controller: 記録の開始に失敗", "path", c.outputPath, "error", err)
	}
}
