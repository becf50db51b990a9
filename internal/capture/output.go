package capture

import (
	"errors"

	"satsuei/internal/media"
	"satsuei/internal/router"
)

// OutputKind は出力の種類。セッションには種類ごとに1つまで追加できる
type OutputKind string

const (
	KindVideoData OutputKind = "video_data"
	KindAudioData OutputKind = "audio_data"
	KindMovieFile OutputKind = "movie_file"
	KindPreview   OutputKind = "preview"
)

var (
	// ErrAlreadyAttached は既にセッションに接続済みの出力を接続しようとした場合のエラー
	ErrAlreadyAttached = errors.New("出力は既にセッションに接続されています")
)

// Output はセッションの出力
//
// Attach はセッションに追加されたときに呼ばれ、router を購読する。
// Detach は削除されたときに呼ばれる。
type Output interface {
	ID() string
	Kind() OutputKind
	Connections() []*Connection
	Attach(r router.Router) error
	Detach()
}

// ConnectionFor は出力の指定メディア種別の接続を返す
func ConnectionFor(o Output, mediaType media.MediaType) *Connection {
	for _, c := range o.Connections() {
		if c.MediaType() == mediaType {
			return c
		}
	}
	return nil
}

// subscriptionID は出力とメディア種別から購読IDを作る
func subscriptionID(outputID string, mediaType media.MediaType) string {
	return outputID + ":" + mediaType.String()
}
