package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
)

// ObjectWriterFunc はオブジェクトの書き込み先を開く
type ObjectWriterFunc func(ctx context.Context, key string) io.WriteCloser

// GCS はCloud Storageバケットへアップロードして保存する
type GCS struct {
	fs     afero.Fs
	open   ObjectWriterFunc
	bucket string
	prefix string
}

// NewGCS は既定の認証情報でCloud Storageクライアントを作成する
func NewGCS(ctx context.Context, fs afero.Fs, cfg Config) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("GCSのバケットが指定されていません")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("Cloud Storageクライアントの作成に失敗: %w", err)
	}

	bucket := client.Bucket(cfg.Bucket)
	open := func(ctx context.Context, key string) io.WriteCloser {
		w := bucket.Object(key).NewWriter(ctx)
		w.ContentType = contentType(key)
		return w
	}
	return NewGCSWithWriter(fs, open, cfg.Bucket, cfg.Prefix), nil
}

// NewGCSWithWriter は指定の書き込み関数でGCSを作成する
func NewGCSWithWriter(fs afero.Fs, open ObjectWriterFunc, bucket, prefix string) *GCS {
	return &GCS{fs: fs, open: open, bucket: bucket, prefix: prefix}
}

// Backend はバックエンド名を返す
func (g *GCS) Backend() string {
	return BackendGCS
}

// Save はファイルをアップロードし、gs:// 形式の場所を返す
func (g *GCS) Save(ctx context.Context, path string) (string, error) {
	f, err := g.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("保存元のオープンに失敗: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	key := objectName(g.prefix, path, time.Now())
	w := g.open(ctx, key)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("GCSへのアップロードに失敗: %w", err)
	}
	// 書き込みはクローズで確定する
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("GCSへのアップロードに失敗: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}

// contentType は拡張子からContent-Typeを決める
func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
