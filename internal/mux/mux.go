// Package mux は記録したサンプルをコンテナファイルに書き出す。
//
// mp4 は外部の ffmpeg に符号化と多重化を任せる。ffmpeg のない環境では
// サンプルをそのまま msgpack で記録する srec 形式を使う。
// Muxer は同時に1つのゴルーチンからのみ使う。
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/spf13/afero"

	"satsuei/internal/media"
)

// コンテナ形式
const (
	ContainerAuto = "auto"
	ContainerMP4  = "mp4"
	ContainerSrec = "srec"
)

var (
	// ErrClosed はクローズ後に書き込んだ場合のエラー
	ErrClosed = errors.New("既にクローズされています")
	// ErrNoSamples は1つもサンプルがないままクローズした場合のエラー
	ErrNoSamples = errors.New("サンプルがありません")
	// ErrUnknownContainer は未知のコンテナ形式のエラー
	ErrUnknownContainer = errors.New("不明なコンテナ形式")
)

// Muxer はサンプルをファイルに書き出す
type Muxer interface {
	WriteSample(sample media.SampleBuffer) error
	Close() error
}

// Factory は出力先パスごとに Muxer を作成する
type Factory interface {
	Create(path string) (Muxer, error)
	Container() string
}

// Options は Muxer の作成設定
type Options struct {
	Container  string
	FFmpegPath string
	FrameRate  int
	Quality    int // 1(低)〜5(高)

	// Fs は srec の書き込み先。nilならOSのファイルシステム
	Fs afero.Fs
}

// NewFactory は設定に応じたファクトリーを作成する
func NewFactory(opts Options) (Factory, error) {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 15
	}
	if opts.Quality <= 0 {
		opts.Quality = 3
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	switch opts.Container {
	case ContainerMP4:
		return &ffmpegFactory{opts: opts}, nil
	case ContainerSrec:
		return &srecFactory{fs: opts.Fs}, nil
	case ContainerAuto, "":
		if err := ValidateFFmpeg(opts.FFmpegPath); err != nil {
			slog.Warn("mux: ffmpegが利用できないためsrec形式で記録します", "error", err)
			return &srecFactory{fs: opts.Fs}, nil
		}
		return &ffmpegFactory{opts: opts}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownContainer, opts.Container)
	}
}

// ValidateFFmpeg はFFmpegが利用可能かチェックする
func ValidateFFmpeg(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("FFmpegが見つかりません。インストールしてください: %w", err)
	}
	return nil
}

type srecFactory struct {
	fs afero.Fs
}

func (f *srecFactory) Create(path string) (Muxer, error) {
	return NewSrecMuxer(f.fs, path)
}

func (f *srecFactory) Container() string {
	return ContainerSrec
}

type ffmpegFactory struct {
	opts Options
}

func (f *ffmpegFactory) Create(path string) (Muxer, error) {
	return NewFFmpegMuxer(path, f.opts)
}

func (f *ffmpegFactory) Container() string {
	return ContainerMP4
}
