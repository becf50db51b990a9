package mux

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"

	"satsuei/internal/media"
)

// srec 形式
//
//	"SREC" | (uint32 BE 長さ | msgpack レコード)...
//
// 先頭のレコードがヘッダー、最後がトレーラーで、その間がサンプル。
var srecMagic = []byte("SREC")

const srecVersion = 1

// maxRecordSize は1レコードの上限。壊れたファイルで巨大な確保をしないため
const maxRecordSize = 64 << 20

// ErrInvalidRecording はsrecとして読めないファイルのエラー
var ErrInvalidRecording = errors.New("srec形式ではありません")

// ErrTruncated はトレーラーのない記録のエラー。読めた分は返す
var ErrTruncated = errors.New("記録が途中で終わっています")

const (
	recordHeader  = "header"
	recordSample  = "sample"
	recordTrailer = "trailer"
)

// Header は記録の開始情報
type Header struct {
	Version   int       `msgpack:"version"`
	Path      string    `msgpack:"path"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// Trailer は記録の終了情報
type Trailer struct {
	VideoSamples uint64        `msgpack:"video_samples"`
	AudioSamples uint64        `msgpack:"audio_samples"`
	Duration     time.Duration `msgpack:"duration"`
	FinishedAt   time.Time     `msgpack:"finished_at"`
}

type record struct {
	Kind    string              `msgpack:"kind"`
	Header  *Header             `msgpack:"header,omitempty"`
	Sample  *media.SampleBuffer `msgpack:"sample,omitempty"`
	Trailer *Trailer            `msgpack:"trailer,omitempty"`
}

// SrecMuxer はサンプルをsrec形式で書き出す
type SrecMuxer struct {
	file   afero.File
	w      *bufio.Writer
	closed bool

	trailer Trailer
}

// NewSrecMuxer はファイルを作成してヘッダーを書き込む
func NewSrecMuxer(fs afero.Fs, path string) (*SrecMuxer, error) {
	file, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("記録ファイルの作成に失敗: %w", err)
	}

	m := &SrecMuxer{file: file, w: bufio.NewWriter(file)}
	if _, err := m.w.Write(srecMagic); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("ヘッダーの書き込みに失敗: %w", err)
	}
	header := &Header{Version: srecVersion, Path: path, CreatedAt: time.Now()}
	if err := m.writeRecord(record{Kind: recordHeader, Header: header}); err != nil {
		_ = file.Close()
		return nil, err
	}
	return m, nil
}

// WriteSample はサンプルを1レコードとして書き込む
func (m *SrecMuxer) WriteSample(sample media.SampleBuffer) error {
	if m.closed {
		return ErrClosed
	}

	if err := m.writeRecord(record{Kind: recordSample, Sample: &sample}); err != nil {
		return err
	}

	switch sample.MediaType {
	case media.MediaTypeVideo:
		m.trailer.VideoSamples++
	case media.MediaTypeAudio:
		m.trailer.AudioSamples++
	}
	if end := sample.PTS + sample.Duration(); end > m.trailer.Duration {
		m.trailer.Duration = end
	}
	return nil
}

// Close はトレーラーを書き込んでファイルを閉じる
func (m *SrecMuxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	m.trailer.FinishedAt = time.Now()
	trailer := m.trailer
	err := m.writeRecord(record{Kind: recordTrailer, Trailer: &trailer})
	if err == nil {
		err = m.w.Flush()
	}
	if cerr := m.file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("記録ファイルのクローズに失敗: %w", cerr)
	}
	return err
}

func (m *SrecMuxer) writeRecord(r record) error {
	data, err := msgpack.Marshal(&r)
	if err != nil {
		return fmt.Errorf("レコードのエンコードに失敗: %w", err)
	}

	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(data)))
	if _, err := m.w.Write(size[:]); err != nil {
		return fmt.Errorf("レコードの書き込みに失敗: %w", err)
	}
	if _, err := m.w.Write(data); err != nil {
		return fmt.Errorf("レコードの書き込みに失敗: %w", err)
	}
	return nil
}

// Recording はsrecファイルから読み出した内容
type Recording struct {
	Header  Header
	Samples []media.SampleBuffer
	Trailer *Trailer
}

// ReadRecording はsrecファイルを読み込む
func ReadRecording(fs afero.Fs, path string) (*Recording, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("記録ファイルのオープンに失敗: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	return decodeRecording(bufio.NewReader(file))
}

func decodeRecording(r io.Reader) (*Recording, error) {
	magic := make([]byte, len(srecMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != string(srecMagic) {
		return nil, ErrInvalidRecording
	}

	rec := &Recording{}
	first := true
	for {
		var size [4]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return rec, ErrTruncated
			}
			return rec, fmt.Errorf("%w: %v", ErrTruncated, err)
		}

		n := binary.BigEndian.Uint32(size[:])
		if n > maxRecordSize {
			return rec, fmt.Errorf("%w: レコードが大きすぎます (%d bytes)", ErrInvalidRecording, n)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return rec, fmt.Errorf("%w: %v", ErrTruncated, err)
		}

		var rr record
		if err := msgpack.Unmarshal(data, &rr); err != nil {
			return rec, fmt.Errorf("レコードのデコードに失敗: %w", err)
		}

		switch {
		case first:
			if rr.Kind != recordHeader || rr.Header == nil {
				return nil, ErrInvalidRecording
			}
			rec.Header = *rr.Header
			first = false
		case rr.Kind == recordSample && rr.Sample != nil:
			rec.Samples = append(rec.Samples, *rr.Sample)
		case rr.Kind == recordTrailer && rr.Trailer != nil:
			rec.Trailer = rr.Trailer
			return rec, nil
		default:
			return rec, fmt.Errorf("%w: 不明なレコード %q", ErrInvalidRecording, rr.Kind)
		}
	}
}
