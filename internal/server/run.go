package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"satsuei/internal/config"
	"satsuei/internal/controller"
)

// Run は撮影画面とサーバーを作成して起動し、停止後に撮影画面を閉じる
func Run(ctx context.Context, cfg *config.Config) error {
	ctrl, err := controller.NewFromConfig(ctx, cfg, afero.NewOsFs())
	if err != nil {
		return fmt.Errorf("撮影画面の初期化に失敗: %w", err)
	}

	srv := New(cfg, ctrl)
	serveErr := srv.Start(ctx)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := ctrl.Close(closeCtx); err != nil {
		slog.Warn("server: 撮影画面の終了に失敗", "error", err)
		return errors.Join(serveErr, err)
	}
	return serveErr
}
