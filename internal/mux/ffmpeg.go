package mux

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"satsuei/internal/media"
)

// FFmpegMuxer は映像をffmpegでH.264に符号化し、音声をAACで多重化してmp4にする
//
// 映像のJPEGフレームは ffmpeg の標準入力に流す。音声はPCMのまま一時ファイルに
// 貯めておき、Close 時に映像と結合する。
type FFmpegMuxer struct {
	path string
	opts Options

	videoPath string
	audioPath string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer

	audio      *os.File
	sampleRate int
	channels   int

	videoSamples int
	audioSamples int
	closed       bool
}

// NewFFmpegMuxer は新しいFFmpegMuxerを作成する。ffmpegは最初の映像で起動する
func NewFFmpegMuxer(path string, opts Options) (*FFmpegMuxer, error) {
	return &FFmpegMuxer{
		path:      path,
		opts:      opts,
		videoPath: path + ".video.mp4",
		audioPath: path + ".audio.pcm",
	}, nil
}

// WriteSample はサンプルを書き込む
func (m *FFmpegMuxer) WriteSample(sample media.SampleBuffer) error {
	if m.closed {
		return ErrClosed
	}

	switch sample.MediaType {
	case media.MediaTypeVideo:
		return m.writeVideo(sample)
	case media.MediaTypeAudio:
		return m.writeAudio(sample)
	default:
		return nil
	}
}

func (m *FFmpegMuxer) writeVideo(sample media.SampleBuffer) error {
	if m.cmd == nil {
		if err := m.startEncoder(); err != nil {
			return err
		}
	}

	if _, err := m.stdin.Write(sample.Data); err != nil {
		return fmt.Errorf("ffmpegへのフレーム書き込みに失敗: %w (output: %s)", err, m.stderr.String())
	}
	m.videoSamples++
	return nil
}

func (m *FFmpegMuxer) writeAudio(sample media.SampleBuffer) error {
	if m.audio == nil {
		f, err := os.Create(m.audioPath)
		if err != nil {
			return fmt.Errorf("音声一時ファイルの作成に失敗: %w", err)
		}
		m.audio = f
		m.sampleRate = sample.SampleRate
		m.channels = sample.Channels
	}

	if _, err := m.audio.Write(sample.Data); err != nil {
		return fmt.Errorf("音声の書き込みに失敗: %w", err)
	}
	m.audioSamples++
	return nil
}

// startEncoder は映像符号化用のffmpegを起動する
func (m *FFmpegMuxer) startEncoder() error {
	cmd := exec.Command(m.opts.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-framerate", strconv.Itoa(m.opts.FrameRate),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", qualityToCRF(m.opts.Quality),
		"-pix_fmt", "yuv420p",
		"-y", // 上書き許可
		m.videoPath,
	)
	cmd.Stderr = &m.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdinパイプの作成に失敗: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	m.cmd = cmd
	m.stdin = stdin
	return nil
}

// Close は符号化を終えて最終的なmp4を書き出す
func (m *FFmpegMuxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	defer func() {
		// cleanup中のエラーは無視
		_ = os.Remove(m.videoPath)
		_ = os.Remove(m.audioPath)
	}()

	// 符号化の成否にかかわらず音声一時ファイルは閉じる
	var audioErr error
	if m.audio != nil {
		audioErr = m.audio.Close()
	}
	if m.cmd != nil {
		_ = m.stdin.Close()
		if err := m.cmd.Wait(); err != nil {
			return fmt.Errorf("動画の符号化に失敗: %w (output: %s)", err, m.stderr.String())
		}
	}
	if audioErr != nil {
		return fmt.Errorf("音声一時ファイルのクローズに失敗: %w", audioErr)
	}

	switch {
	case m.videoSamples > 0 && m.audioSamples > 0:
		return m.run(m.mergeArgs())
	case m.videoSamples > 0:
		if err := os.Rename(m.videoPath, m.path); err != nil {
			return fmt.Errorf("ファイル置き換えに失敗: %w", err)
		}
		return nil
	case m.audioSamples > 0:
		return m.run(m.audioOnlyArgs())
	default:
		return ErrNoSamples
	}
}

// mergeArgs は映像と音声を結合するffmpeg引数を返す
func (m *FFmpegMuxer) mergeArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", m.videoPath,
		"-f", "s16le",
		"-ar", strconv.Itoa(m.sampleRate),
		"-ac", strconv.Itoa(m.channels),
		"-i", m.audioPath,
		"-c:v", "copy", // 再エンコードなし
		"-c:a", "aac",
		"-shortest",
		"-movflags", "+faststart",
		"-y",
		m.path,
	}
}

func (m *FFmpegMuxer) audioOnlyArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(m.sampleRate),
		"-ac", strconv.Itoa(m.channels),
		"-i", m.audioPath,
		"-c:a", "aac",
		"-y",
		m.path,
	}
}

func (m *FFmpegMuxer) run(args []string) error {
	output, err := exec.Command(m.opts.FFmpegPath, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("動画の書き出しに失敗: %w (output: %s)", err, string(output))
	}
	return nil
}

// qualityToCRF は品質設定をFFmpegのCRF値に変換する
func qualityToCRF(quality int) string {
	// 品質1(低) -> CRF28, 品質5(高) -> CRF18
	crf := 28.0 - float64(quality-1)*2.5
	if crf < 18 {
		crf = 18
	}
	if crf > 28 {
		crf = 28
	}
	return strconv.FormatFloat(crf, 'f', 1, 64)
}
