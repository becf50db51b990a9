package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"satsuei/internal/media"
)

// V4L2Source はUSBカメラの Source 実装
//
// ffmpeg の image2pipe 出力を JPEG マーカーで分割してフレームにする。
type V4L2Source struct {
	base
}

// NewV4L2Source は新しいV4L2Sourceを作成する
func NewV4L2Source(info Info, settings Settings) *V4L2Source {
	info.Driver = "v4l2"
	info.MediaType = media.MediaTypeVideo
	return &V4L2Source{base: newBase(info, settings)}
}

// Start はカメラからのストリーミングを開始する
func (s *V4L2Source) Start(ctx context.Context) error {
	if _, err := exec.LookPath(s.settings.FFmpegPath); err != nil {
		s.setStatus(StatusError)
		return fmt.Errorf("%w: %s", ErrFFmpegNotFound, s.settings.FFmpegPath)
	}
	s.launch(ctx, s.run)
	return nil
}

// Stop はストリーミングを停止する
func (s *V4L2Source) Stop(_ context.Context) error {
	s.halt()
	return nil
}

// args は連続キャプチャ用のffmpeg引数を返す
func (s *V4L2Source) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-input_format", "mjpeg",
		"-video_size", fmt.Sprintf("%dx%d", s.settings.Width, s.settings.Height),
		"-framerate", strconv.Itoa(s.settings.FrameRate),
		"-i", s.info.Device,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(s.settings.Quality),
		"-",
	}
}

func (s *V4L2Source) run(ctx context.Context) {
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

	var splitter jpegSplitter
	buffer := make([]byte, 256*1024)
	for {
		n, readErr := stdout.Read(buffer)
		for _, frame := range splitter.Push(buffer[:n]) {
			s.emit(media.SampleBuffer{
				MediaType: media.MediaTypeVideo,
				SourceID:  s.info.ID,
				Timestamp: time.Now(),
				Format:    media.FormatMJPEG,
				Data:      frame,
				Width:     s.settings.Width,
				Height:    s.settings.Height,
			})
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && ctx.Err() == nil {
				s.fail(fmt.Errorf("フレーム読み取りエラー: %w", readErr))
			}
			break
		}
	}

	// コンテキストキャンセル時のエラーは無視する
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		s.abort(fmt.Errorf("ffmpegが終了しました: %s: %w", s.info.Device, err))
	}
}

// abort はエラーを通知して状態をエラーにする
func (s *V4L2Source) abort(err error) {
	s.setStatus(StatusError)
	s.fail(err)
}

// jpegSplitter はバイトストリームを完全なJPEGフレームに分割する
type jpegSplitter struct {
	buf bytes.Buffer
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Push はデータを追加し、完成したフレームを返す
func (j *jpegSplitter) Push(data []byte) [][]byte {
	j.buf.Write(data)

	var frames [][]byte
	for {
		pending := j.buf.Bytes()

		start := bytes.Index(pending, jpegSOI)
		if start == -1 {
			// 末尾の0xFFはマーカーの前半かもしれないので残す
			if n := len(pending); n > 0 && pending[n-1] == 0xFF {
				j.buf.Next(n - 1)
			} else {
				j.buf.Reset()
			}
			break
		}

		end := bytes.Index(pending[start+2:], jpegEOI)
		if end == -1 {
			// 開始マーカーより前の不要なデータを削除
			j.buf.Next(start)
			break
		}
		end += start + 2 + len(jpegEOI)

		frame := make([]byte, end-start)
		copy(frame, pending[start:end])
		frames = append(frames, frame)

		j.buf.Next(end)
	}
	return frames
}

// logStderr はffmpegのエラー出力をログに流す
func logStderr(r io.Reader, device string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug("source: ffmpeg", "device", device, "line", scanner.Text())
	}
}
