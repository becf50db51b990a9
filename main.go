package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"satsuei/internal/config"
	"satsuei/internal/logging"
	"satsuei/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	_, closer, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatalf("ログの設定に失敗しました: %v", err)
	}
	defer func() {
		_ = closer.Close()
	}()

	if err := server.Run(context.Background(), cfg); err != nil {
		slog.Error("サーバーの起動に失敗しました", "error", err)
		_ = closer.Close()
		os.Exit(1)
	}
}
