package library

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Local はディレクトリへコピーして保存する
type Local struct {
	fs  afero.Fs
	dir string
}

// NewLocal は新しいLocalを作成する
func NewLocal(fs afero.Fs, dir string) *Local {
	return &Local{fs: fs, dir: dir}
}

// Backend はバックエンド名を返す
func (l *Local) Backend() string {
	return BackendLocal
}

// Save はファイルをライブラリのディレクトリへコピーする
func (l *Local) Save(ctx context.Context, path string) (string, error) {
	if err := l.fs.MkdirAll(l.dir, 0755); err != nil {
		return "", fmt.Errorf("ライブラリディレクトリの作成に失敗: %w", err)
	}

	src, err := l.fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("保存元のオープンに失敗: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()

	dest := filepath.Join(l.dir, objectName("", path, time.Now()))
	dst, err := l.fs.Create(dest)
	if err != nil {
		return "", fmt.Errorf("保存先の作成に失敗: %w", err)
	}

	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		_ = dst.Close()
		_ = l.fs.Remove(dest)
		return "", fmt.Errorf("コピーに失敗: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("保存先のクローズに失敗: %w", err)
	}
	return dest, nil
}

// ctxReader はコンテキストのキャンセルで読み込みを打ち切る
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
