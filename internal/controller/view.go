package controller

import (
	"context"
	"log/slog"

	"satsuei/internal/capture"
	"satsuei/internal/device"
	"satsuei/internal/notify"
)

// Appear は画面の表示時に入出力をつないで撮影を開始する
//
// 記録は開始しない。ToggleRecording で開始・停止する。
// カメラの被写体領域の変化とデバイスの接続・切断を購読する。
func (c *Controller) Appear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		slog.Warn("controller: 終了済みのため表示できません")
		return
	}
	if c.appeared {
		return
	}

	c.session.BeginConfiguration()
	c.setupVideo(ctx)
	c.setupAudio(ctx)
	c.setupMovieOutput()
	c.setupPreview()
	c.session.CommitConfiguration()

	if !c.startRunning(ctx) {
		return
	}
	c.appeared = true

	if c.videoInput != nil {
		c.observeSubjectArea(nil, c.videoInput)
	}
	c.observers = append(c.observers,
		c.center.AddObserver(notify.DeviceWasConnected, nil, deviceWasConnected),
		c.center.AddObserver(notify.DeviceWasDisconnected, nil, deviceWasDisconnected),
		c.center.AddObserver(notify.SessionRuntimeError, c.session, sessionRuntimeError),
	)

	// 監視は画面の表示中ずっと続ける
	if err := c.monitor.Start(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("controller: デバイス監視の開始に失敗", "error", err)
	}

	slog.Info("controller: 画面を表示しました")
}

// Disappear は画面が隠れたときに購読を解除し、記録と撮影を止める
func (c *Controller) Disappear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.appeared {
		return
	}
	c.appeared = false

	c.stopObserving()
	c.monitor.Stop()

	c.movieOutput.StopRecording()
	c.session.StopRunning(ctx)
	c.layer.RemoveFromSuperlayer()

	slog.Info("controller: 画面を閉じました")
}

// ToggleRecording は記録を開始または停止する
//
// 終わった記録は保存先が設定されていればライブラリへ保存する。
func (c *Controller) ToggleRecording(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.movieOutput.IsRecording() {
		c.movieOutput.StopRecording()
		return
	}
	if !c.session.IsRunning() {
		slog.Warn("controller: 撮影していないため記録できません")
		return
	}
	c.startRecording(librarySaver{controller: c})
}

// observeSubjectArea は被写体領域の監視を新しいカメラへ移す。mu を保持して呼ぶ
func (c *Controller) observeSubjectArea(prev, next *capture.DeviceInput) {
	if !c.subject.IsZero() {
		c.center.RemoveObserver(c.subject)
		c.subject = notify.Token{}
	}
	if prev != nil && prev.Handle().IsSubjectAreaChangeMonitoringEnabled() {
		setSubjectAreaMonitoring(prev.Handle(), false)
	}
	if next == nil {
		return
	}

	if !setSubjectAreaMonitoring(next.Handle(), true) {
		return
	}
	c.subject = c.center.AddObserver(notify.SubjectAreaDidChange, next.Handle(), subjectAreaDidChange)
}

// stopObserving は全ての購読を解除する。mu を保持して呼ぶ
func (c *Controller) stopObserving() {
	for _, token := range c.observers {
		c.center.RemoveObserver(token)
	}
	c.observers = nil

	c.observeSubjectArea(c.videoInput, nil)
}

// setSubjectAreaMonitoring はデバイスをロックして被写体領域の監視を切り替える
func setSubjectAreaMonitoring(h *device.Handle, enabled bool) bool {
	if err := h.LockForConfiguration(); err != nil {
		slog.Warn("controller: デバイスのロックに失敗", "device", h.ID(), "error", err)
		return false
	}
	defer h.UnlockForConfiguration()

	if err := h.SetSubjectAreaChangeMonitoringEnabled(enabled); err != nil {
		slog.Warn("controller: 被写体領域の監視の設定に失敗", "device", h.ID(), "error", err)
		return false
	}
	if enabled {
		if err := h.SetFocusMode(device.FocusModeContinuousAutoFocus); err != nil {
			slog.Warn("controller: フォーカスモードの設定に失敗", "device", h.ID(), "error", err)
		}
	}
	return true
}

// subjectAreaDidChange は画面中央にフォーカスを合わせ直す
//
// 通知はサンプルを流すゴルーチン上で届く。セッションの構成は変えないこと。
func subjectAreaDidChange(n notify.Notification) {
	h, ok := n.Object.(*device.Handle)
	if !ok {
		return
	}
	slog.Info("controller: 被写体領域が変化しました", "device", h.ID(), "seq", n.Info["seq"])

	if err := h.LockForConfiguration(); err != nil {
		slog.Debug("controller: フォーカスの再調整を見送りました", "device", h.ID(), "error", err)
		return
	}
	defer h.UnlockForConfiguration()

	if err := h.SetFocusPointOfInterest(device.Point{X: 0.5, Y: 0.5}); err != nil {
		slog.Warn("controller: フォーカス位置の設定に失敗", "device", h.ID(), "error", err)
		return
	}
	if err := h.SetFocusMode(device.FocusModeAutoFocus); err != nil {
		slog.Warn("controller: フォーカスモードの設定に失敗", "device", h.ID(), "error", err)
	}
}

func deviceWasConnected(n notify.Notification) {
	if d, ok := device.DeviceFromNotification(n); ok {
		slog.Info("controller: デバイスが接続されました", "device", d.ID, "name", d.Name, "type", d.MediaType)
	}
}

func deviceWasDisconnected(n notify.Notification) {
	if d, ok := device.DeviceFromNotification(n); ok {
		slog.Warn("controller: デバイスが切断されました", "device", d.ID, "name", d.Name, "type", d.MediaType)
	}
}

func sessionRuntimeError(n notify.Notification) {
	slog.Warn("controller: セッションでエラーが発生", "device", n.Info["device_id"], "error", n.Info["error"])
}
