package controller

import (
	"context"
	"log/slog"
)

// StartCapture は入出力をつないで撮影を開始し、記録を始める
//
// 実行中なら何もしない。カメラやマイクが見つからない場合はその入力を飛ばす。
func (c *Controller) StartCapture(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		slog.Warn("controller: 終了済みのため撮影を開始できません")
		return
	}
	if c.session.IsRunning() {
		slog.Info("controller: 既に撮影中です")
		return
	}

	// 1.映像 2.音声 3.記録 4.プレビュー をまとめて適用する
	c.session.BeginConfiguration()
	c.setupVideo(ctx)
	c.setupAudio(ctx)
	c.setupMovieOutput()
	c.setupPreview()
	c.session.CommitConfiguration()

	if !c.startRunning(ctx) {
		return
	}
	c.startRecording(recordingLogger{})
}

// EndCapture は記録と撮影を止め、プレビューレイヤーを外す
func (c *Controller) EndCapture(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.movieOutput.StopRecording()
	c.session.StopRunning(ctx)
	c.layer.RemoveFromSuperlayer()

	slog.Info("controller: 撮影を終了しました")
}

// SwitchCamera はカメラの前後を切り替える
//
// 古い入力は必ず外す。新しい入力を追加できなければ映像入力のないままになる。
func (c *Controller) SwitchCamera(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.videoInput
	if current == nil {
		slog.Warn("controller: 切り替え元のカメラがありません")
		return
	}

	position := current.Position().Opposite()
	d, ok := c.findCamera(ctx, position)
	if !ok {
		slog.Warn("controller: 切り替え先のカメラが見つかりません", "position", position)
		return
	}
	in, ok := c.newInput(*d)
	if !ok {
		return
	}

	c.session.BeginConfiguration()
	c.session.RemoveInput(current)
	if c.session.CanAddInput(in) {
		if err := c.session.AddInput(in); err != nil {
			slog.Warn("controller: カメラ入力の追加に失敗", "device", d.ID, "error", err)
		}
	}
	c.session.CommitConfiguration()

	c.videoInput = in
	if c.appeared {
		c.observeSubjectArea(current, in)
	}

	slog.Info("controller: カメラを切り替えました", "device", d.ID, "position", position)
}
