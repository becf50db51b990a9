// Package main はSatsueiサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"satsuei/internal/config"
	"satsuei/internal/logging"
	"satsuei/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		configFile = flag.String("config", "", "設定ファイル (YAML)")
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		driver     = flag.String("driver", "", "デバイスドライバー (linux / mock)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Satsuei")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	path := *configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Capture.Driver = *driver
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	_, closer, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatalf("ログの設定に失敗しました: %v", err)
	}
	defer func() {
		_ = closer.Close()
	}()

	slog.Info("Satsuei サーバーを起動します", "addr", cfg.ServerAddress(), "driver", cfg.Capture.Driver)
	if err := server.Run(context.Background(), cfg); err != nil {
		slog.Error("サーバーの起動に失敗しました", "error", err)
		_ = closer.Close()
		os.Exit(1)
	}
}
