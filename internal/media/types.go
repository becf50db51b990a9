// Package media はキャプチャパイプライン全体で共有するサンプル型を定義する
package media

import (
	"fmt"
	"time"
)

// MediaType はサンプルのメディア種別を表す
type MediaType int

const (
	MediaTypeVideo MediaType = iota // 映像
	MediaTypeAudio                  // 音声
)

// MediaTypes は全メディア種別を列挙順で返す
func MediaTypes() []MediaType {
	return []MediaType{MediaTypeVideo, MediaTypeAudio}
}

func (m MediaType) String() string {
	switch m {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ParseMediaType は文字列からメディア種別を取得する
func ParseMediaType(s string) (MediaType, error) {
	switch s {
	case "video":
		return MediaTypeVideo, nil
	case "audio":
		return MediaTypeAudio, nil
	default:
		return 0, fmt.Errorf("不明なメディア種別: %s", s)
	}
}

// Position はカメラの向きを表す
type Position int

const (
	PositionUnspecified Position = iota // 不明
	PositionFront                       // 前面（インカメラ）
	PositionBack                        // 背面
)

func (p Position) String() string {
	switch p {
	case PositionFront:
		return "front"
	case PositionBack:
		return "back"
	default:
		return "unspecified"
	}
}

// Opposite は反対側の向きを返す。不明な場合は前面を返す
func (p Position) Opposite() Position {
	if p == PositionFront {
		return PositionBack
	}
	return PositionFront
}

// ParsePosition は文字列からカメラの向きを取得する
func ParsePosition(s string) (Position, error) {
	switch s {
	case "front":
		return PositionFront, nil
	case "back":
		return PositionBack, nil
	case "", "unspecified":
		return PositionUnspecified, nil
	default:
		return PositionUnspecified, fmt.Errorf("不明なカメラの向き: %s", s)
	}
}

// フォーマット名
const (
	FormatMJPEG = "MJPEG" // JPEGフレーム列
	FormatS16LE = "S16LE" // 符号付き16bitリトルエンディアンPCM
)

// SampleBuffer はキャプチャされた1単位の映像または音声データ
type SampleBuffer struct {
	MediaType MediaType     `msgpack:"media_type"`
	SourceID  string        `msgpack:"source_id"` // 入力デバイスID
	Seq       uint64        `msgpack:"seq"`       // メディア種別ごとの通し番号
	PTS       time.Duration `msgpack:"pts"`       // セッション開始からの経過時間
	Timestamp time.Time     `msgpack:"timestamp"` // キャプチャ時刻
	Format    string        `msgpack:"format"`
	Data      []byte        `msgpack:"data"`

	// 映像のみ
	Width  int `msgpack:"width,omitempty"`
	Height int `msgpack:"height,omitempty"`

	// 音声のみ
	SampleRate int `msgpack:"sample_rate,omitempty"`
	Channels   int `msgpack:"channels,omitempty"`
}

// Size はデータサイズを返す
func (s SampleBuffer) Size() int {
	return len(s.Data)
}

// Duration は音声サンプルの再生時間を返す。映像の場合は0
func (s SampleBuffer) Duration() time.Duration {
	if s.MediaType != MediaTypeAudio || s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	frames := len(s.Data) / (2 * s.Channels)
	return time.Duration(frames) * time.Second / time.Duration(s.SampleRate)
}
