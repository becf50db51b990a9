package source

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"time"

	"satsuei/internal/media"
)

// PatternSource はテストパターンのJPEGを生成するモックカメラ
//
// 一定フレームごとに単調なグラデーションと細かい市松模様を切り替えるため、
// 被写体領域の変化検知もモックで確認できる。
type PatternSource struct {
	base

	// sceneFrames はシーンを切り替えるフレーム数。0なら切り替えない
	sceneFrames int
}

// NewPatternSource は新しいPatternSourceを作成する
func NewPatternSource(info Info, settings Settings) *PatternSource {
	info.Driver = "mock"
	info.MediaType = media.MediaTypeVideo
	s := &PatternSource{base: newBase(info, settings)}
	s.sceneFrames = s.settings.FrameRate * 5
	return s
}

// Start はパターン生成を開始する
func (s *PatternSource) Start(ctx context.Context) error {
	s.launch(ctx, s.run)
	return nil
}

// Stop はパターン生成を停止する
func (s *PatternSource) Stop(_ context.Context) error {
	s.halt()
	return nil
}

func (s *PatternSource) run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(s.settings.FrameRate))
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		data, err := s.render(frame)
		if err != nil {
			s.setStatus(StatusError)
			s.fail(fmt.Errorf("テストパターンの生成に失敗: %w", err))
			return
		}
		s.emit(media.SampleBuffer{
			MediaType: media.MediaTypeVideo,
			SourceID:  s.info.ID,
			Timestamp: time.Now(),
			Format:    media.FormatMJPEG,
			Data:      data,
			Width:     s.settings.Width,
			Height:    s.settings.Height,
		})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// render はフレーム番号に応じたパターンをJPEGで返す
func (s *PatternSource) render(frame int) ([]byte, error) {
	w, h := s.settings.Width, s.settings.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	busy := s.sceneFrames > 0 && (frame/s.sceneFrames)%2 == 1
	bar := frame % w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.RGBA
			if busy {
				if (x/4+y/4)%2 == 0 {
					c = color.RGBA{R: 240, G: 240, B: 240, A: 255}
				} else {
					c = color.RGBA{R: 16, G: 16, B: 16, A: 255}
				}
			} else {
				c = color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255}
			}
			if x >= bar && x < bar+8 {
				c = color.RGBA{R: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToneSource はサイン波のPCMを生成するモックマイク
type ToneSource struct {
	base

	frequency float64
}

// NewToneSource は440Hzのサイン波を出すToneSourceを作成する
func NewToneSource(info Info, settings Settings) *ToneSource {
	info.Driver = "mock"
	info.MediaType = media.MediaTypeAudio
	return &ToneSource{base: newBase(info, settings), frequency: 440}
}

// Start はサイン波の生成を開始する
func (s *ToneSource) Start(ctx context.Context) error {
	s.launch(ctx, s.run)
	return nil
}

// Stop はサイン波の生成を停止する
func (s *ToneSource) Stop(_ context.Context) error {
	s.halt()
	return nil
}

func (s *ToneSource) run(ctx context.Context) {
	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()

	rate, channels := s.settings.SampleRate, s.settings.Channels
	chunk := pcmChunkSize(rate, channels)
	var n int64

	for {
		data := make([]byte, chunk)
		for i := 0; i+2*channels <= chunk; i += 2 * channels {
			v := int16(math.Sin(2*math.Pi*s.frequency*float64(n)/float64(rate)) * 0.3 * math.MaxInt16)
			for c := 0; c < channels; c++ {
				binary.LittleEndian.PutUint16(data[i+2*c:], uint16(v))
			}
			n++
		}

		s.emit(media.SampleBuffer{
			MediaType:  media.MediaTypeAudio,
			SourceID:   s.info.ID,
			Timestamp:  time.Now(),
			Format:     media.FormatS16LE,
			Data:       data,
			SampleRate: rate,
			Channels:   channels,
		})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
