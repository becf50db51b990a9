package controller

import (
	"context"
	"log/slog"
	"time"

	"satsuei/internal/capture"
	"satsuei/internal/library"
	"satsuei/internal/media"
)

// sampleLogger はサンプルの到着をログに残すだけのデリゲート
type sampleLogger struct{}

func (sampleLogger) DidOutputSampleBuffer(out *capture.DataOutput, sample media.SampleBuffer, _ *capture.Connection) {
	if out.MediaType() == media.MediaTypeVideo {
		slog.Debug("controller: 映像を取得しました", "seq", sample.Seq, "pts", sample.PTS, "bytes", sample.Size())
		return
	}
	slog.Debug("controller: 音声を取得しました", "seq", sample.Seq, "pts", sample.PTS, "bytes", sample.Size())
}

func (sampleLogger) DidDropSampleBuffer(out *capture.DataOutput, sample media.SampleBuffer, _ *capture.Connection) {
	slog.Debug("controller: サンプルを破棄しました", "type", out.MediaType(), "seq", sample.Seq)
}

// recordingLogger は記録の開始と終了をログに残す
type recordingLogger struct{}

func (recordingLogger) DidStartRecording(_ *capture.MovieFileOutput, path string, _ []*capture.Connection) {
	slog.Info("controller: 書き込みを開始しました", "path", path)
}

func (recordingLogger) DidFinishRecording(_ *capture.MovieFileOutput, path string, duration time.Duration, _ []*capture.Connection, err error) {
	if err != nil {
		slog.Warn("controller: 書き込みが異常終了しました", "path", path, "error", err)
		return
	}
	slog.Info("controller: 書き込みを終了しました", "path", path, "duration", duration)
}

// librarySaver は記録の結果を残し、成功した記録をライブラリへ保存する
type librarySaver struct {
	controller *Controller
}

func (d librarySaver) DidStartRecording(out *capture.MovieFileOutput, path string, conns []*capture.Connection) {
	recordingLogger{}.DidStartRecording(out, path, conns)
}

func (d librarySaver) DidFinishRecording(out *capture.MovieFileOutput, path string, duration time.Duration, conns []*capture.Connection, err error) {
	recordingLogger{}.DidFinishRecording(out, path, duration, conns, err)

	c := d.controller
	result := &RecordingResult{
		Path:       path,
		Duration:   duration,
		FinishedAt: time.Now(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	c.setLastRecording(result)

	if err != nil || !library.Enabled(c.saver) {
		return
	}
	library.SaveAsync(context.Background(), c.saver, path, func(location string, err error) {
		c.recMu.Lock()
		defer c.recMu.Unlock()
		if err != nil {
			result.SaveError = err.Error()
			return
		}
		result.Location = location
	})
}

// setLastRecording は最後の記録の結果を差し替える
func (c *Controller) setLastRecording(result *RecordingResult) {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	c.last = result
}

// LastRecording は最後に終わった記録の結果を返す。まだなければnil
func (c *Controller) LastRecording() *RecordingResult {
	c.recMu.Lock()
	defer c.recMu.Unlock()
	if c.last == nil {
		return nil
	}
	r := *c.last
	return &r
}
