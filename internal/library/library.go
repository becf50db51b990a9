// Package library は記録を終えた動画をライブラリへ保存する
//
// 保存先はローカルのディレクトリ、S3、GCS から選ぶ。
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// バックエンド名
const (
	BackendNone  = "none"
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// ErrUnknownBackend は未知のバックエンドが指定された場合のエラー
var ErrUnknownBackend = errors.New("不明な保存先")

// Saver は動画ファイルをライブラリへ保存する
type Saver interface {
	// Save は保存し、保存先の場所を返す
	Save(ctx context.Context, path string) (string, error)
	Backend() string
}

// Config は保存先の設定
type Config struct {
	Backend string
	Dir     string // local
	Bucket  string // s3, gcs
	Prefix  string // s3, gcs
	Region  string // s3

	// Endpoint はS3互換ストレージのエンドポイント
	Endpoint string
}

// New は設定に応じた Saver を作成する。none の場合は何も保存しない Nop を返す
//
// fs は保存元のファイルと local の保存先に使う。
func New(ctx context.Context, cfg Config, fs afero.Fs) (Saver, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	switch cfg.Backend {
	case BackendNone, "":
		return Nop{}, nil
	case BackendLocal:
		return NewLocal(fs, cfg.Dir), nil
	case BackendS3:
		return NewS3(ctx, fs, cfg)
	case BackendGCS:
		return NewGCS(ctx, fs, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// Nop は何も保存しない Saver
type Nop struct{}

// Save は保存せずに空の場所を返す
func (Nop) Save(context.Context, string) (string, error) {
	return "", nil
}

// Backend は none を返す
func (Nop) Backend() string {
	return BackendNone
}

// Enabled は保存先が設定されているかを返す
func Enabled(s Saver) bool {
	return s != nil && s.Backend() != BackendNone
}

// SaveAsync は別ゴルーチンで保存し、終わったら completion を呼ぶ
func SaveAsync(ctx context.Context, s Saver, path string, completion func(location string, err error)) {
	go func() {
		location, err := s.Save(ctx, path)
		if err != nil {
			slog.Warn("library: 保存に失敗", "backend", s.Backend(), "path", path, "error", err)
		} else {
			slog.Info("library: 保存しました", "backend", s.Backend(), "location", location)
		}
		if completion != nil {
			completion(location, err)
		}
	}()
}

// objectName は保存先で重ならない名前を作る
func objectName(prefix, path string, now time.Time) string {
	name := fmt.Sprintf("%s-%s%s", now.Format("20060102-150405"), uuid.NewString()[:8], filepath.Ext(path))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
