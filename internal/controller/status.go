package controller

import (
	"time"

	"satsuei/internal/capture"
	"satsuei/internal/device"
	"satsuei/internal/media"
	"satsuei/internal/preview"
)

// DeviceInfo はAPIで返すデバイス情報
type DeviceInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Driver    string   `json:"driver"`
	MediaType string   `json:"media_type"`
	Position  string   `json:"position"`
	Formats   []string `json:"formats,omitempty"`
}

func newDeviceInfo(d device.Device) DeviceInfo {
	return DeviceInfo{
		ID:        d.ID,
		Name:      d.Name,
		Path:      d.Path,
		Driver:    d.Driver,
		MediaType: d.MediaType.String(),
		Position:  d.Position.String(),
		Formats:   d.Formats,
	}
}

// RecordingResult は終わった記録の結果
type RecordingResult struct {
	Path       string        `json:"path"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
	Error      string        `json:"error,omitempty"`

	// ライブラリへの保存結果
	Location  string `json:"location,omitempty"`
	SaveError string `json:"save_error,omitempty"`
}

// Status はコントローラーの状態
type Status struct {
	State      string `json:"state"`
	Running    bool   `json:"running"`
	Appeared   bool   `json:"appeared"`
	Recording  bool   `json:"recording"`
	OutputPath string `json:"output_path"`

	RecordedDuration time.Duration `json:"recorded_duration"`
	Stabilization    string        `json:"stabilization"`

	Camera     *DeviceInfo `json:"camera,omitempty"`
	Microphone *DeviceInfo `json:"microphone,omitempty"`

	Preview        bool         `json:"preview"`
	PreviewFrame   preview.Rect `json:"preview_frame"`
	RenderedFrames uint64       `json:"rendered_frames"`

	VideoDelivered uint64 `json:"video_delivered"`
	VideoDropped   uint64 `json:"video_dropped"`
	AudioDelivered uint64 `json:"audio_delivered"`
	AudioDropped   uint64 `json:"audio_dropped"`

	LastRecording *RecordingResult `json:"last_recording,omitempty"`
}

// Status は現在の状態を返す
func (c *Controller) Status() Status {
	c.mu.Lock()
	appeared := c.appeared
	c.mu.Unlock()

	st := Status{
		State:            c.session.State().String(),
		Running:          c.session.IsRunning(),
		Appeared:         appeared,
		Recording:        c.movieOutput.IsRecording(),
		OutputPath:       c.outputPath,
		RecordedDuration: c.movieOutput.RecordedDuration(),
		Preview:          c.layer.Superlayer() != nil,
		PreviewFrame:     c.layer.Frame(),
		RenderedFrames:   c.layer.Rendered(),
		VideoDelivered:   c.videoOutput.Delivered(),
		VideoDropped:     c.videoOutput.Dropped(),
		AudioDelivered:   c.audioOutput.Delivered(),
		AudioDropped:     c.audioOutput.Dropped(),
		LastRecording:    c.LastRecording(),
	}

	if conn := capture.ConnectionFor(c.movieOutput, media.MediaTypeVideo); conn != nil {
		st.Stabilization = conn.ActiveVideoStabilizationMode().String()
	}
	if in, ok := c.session.Input(media.MediaTypeVideo); ok {
		info := newDeviceInfo(in.Device())
		st.Camera = &info
	}
	if in, ok := c.session.Input(media.MediaTypeAudio); ok {
		info := newDeviceInfo(in.Device())
		st.Microphone = &info
	}
	return st
}
