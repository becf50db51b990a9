package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"satsuei/internal/media"
)

// chunkDuration はPCMサンプル1個あたりの長さ
const chunkDuration = 20 * time.Millisecond

// ALSASource はマイクの Source 実装
//
// ffmpeg の alsa 入力から s16le の PCM を読み出し、20ms ごとのサンプルにする。
type ALSASource struct {
	base
}

// NewALSASource は新しいALSASourceを作成する
func NewALSASource(info Info, settings Settings) *ALSASource {
	info.Driver = "alsa"
	info.MediaType = media.MediaTypeAudio
	return &ALSASource{base: newBase(info, settings)}
}

// Start は録音を開始する
func (s *ALSASource) Start(ctx context.Context) error {
	if _, err := exec.LookPath(s.settings.FFmpegPath); err != nil {
		s.setStatus(StatusError)
		return fmt.Errorf("%w: %s", ErrFFmpegNotFound, s.settings.FFmpegPath)
	}
	s.launch(ctx, s.run)
	return nil
}

// Stop は録音を停止する
func (s *ALSASource) Stop(_ context.Context) error {
	s.halt()
	return nil
}

func (s *ALSASource) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "alsa",
		"-ac", strconv.Itoa(s.settings.Channels),
		"-ar", strconv.Itoa(s.settings.SampleRate),
		"-i", s.info.Device,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-",
	}
}

func (s *ALSASource) run(ctx context.Context) {
	cmd := exec.CommandContext(ctx, s.settings.FFmpegPath, s.args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.abort(fmt.Errorf("stdoutパイプの作成に失敗: %w", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.abort(fmt.Errorf("stderrパイプの作成に失敗: %w", err))
		return
	}

	if err := cmd.Start(); err != nil {
		s.abort(fmt.Errorf("ffmpegの起動に失敗: %w", err))
		return
	}

	go logStderr(stderr, s.info.Device)

	chunk := pcmChunkSize(s.settings.SampleRate, s.settings.Channels)
	for {
		data := make([]byte, chunk)
		if _, err := io.ReadFull(stdout, data); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && ctx.Err() == nil {
				s.fail(fmt.Errorf("PCM読み取りエラー: %w", err))
			}
			break
		}
		s.emit(s.sample(data))
	}

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		s.abort(fmt.Errorf("ffmpegが終了しました: %s: %w", s.info.Device, err))
	}
}

func (s *ALSASource) sample(data []byte) media.SampleBuffer {
	return media.SampleBuffer{
		MediaType:  media.MediaTypeAudio,
		SourceID:   s.info.ID,
		Timestamp:  time.Now(),
		Format:     media.FormatS16LE,
		Data:       data,
		SampleRate: s.settings.SampleRate,
		Channels:   s.settings.Channels,
	}
}

func (s *ALSASource) abort(err error) {
	s.setStatus(StatusError)
	s.fail(err)
}

// pcmChunkSize は20ms分のs16le PCMのバイト数を返す
func pcmChunkSize(sampleRate, channels int) int {
	frames := sampleRate * int(chunkDuration/time.Millisecond) / 1000
	if frames <= 0 {
		frames = 1
	}
	return frames * channels * 2
}
