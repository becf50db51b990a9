package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// キャプチャ設定の検証
	if cfg.Capture.FrameRate <= 0 || cfg.Capture.Width <= 0 || cfg.Capture.Height <= 0 {
		t.Error("映像のデフォルト値が設定されていません")
	}
	if cfg.Recording.FileName != "movie.mp4" {
		t.Errorf("記録ファイル名が違います: got %s", cfg.Recording.FileName)
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			modify:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			modify:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "無効なドライバー",
			modify:    func(c *Config) { c.Capture.Driver = "avfoundation" },
			expectErr: true,
		},
		{
			name: "無効なカメラの向き",
			modify: func(c *Config) {
				c.Capture.Cameras = []CameraDevice{{Device: "/dev/video0", Position: "side"}}
			},
			expectErr: true,
		},
		{
			name:      "記録ファイル名にディレクトリを含む",
			modify:    func(c *Config) { c.Recording.FileName = "sub/movie.mp4" },
			expectErr: true,
		},
		{
			name:      "無効なコンテナ形式",
			modify:    func(c *Config) { c.Recording.Container = "avi" },
			expectErr: true,
		},
		{
			name:      "S3のバケットなし",
			modify:    func(c *Config) { c.Library.Backend = "s3" },
			expectErr: true,
		},
		{
			name: "GCSのバケットあり",
			modify: func(c *Config) {
				c.Library.Backend = "gcs"
				c.Library.Bucket = "videos"
			},
			expectErr: false,
		},
		{
			name:      "無効なログレベル",
			modify:    func(c *Config) { c.Log.Level = "verbose" },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestOutputPath は記録ファイルのパスが記録先ディレクトリだけで決まることをテストする
func TestOutputPath(t *testing.T) {
	cfg := Default()
	cfg.Recording.DocumentDir = "/var/lib/satsuei"

	first := cfg.OutputPath()
	second := cfg.OutputPath()

	if first != "/var/lib/satsuei/movie.mp4" {
		t.Errorf("記録ファイルのパスが違います: got %s", first)
	}
	if first != second {
		t.Errorf("記録ファイルのパスが一定ではありません: %s, %s", first, second)
	}
	if cfg.LibraryDir() != "/var/lib/satsuei/library" {
		t.Errorf("ライブラリディレクトリが違います: got %s", cfg.LibraryDir())
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("DOCUMENT_DIR", "/tmp/docs")
	t.Setenv("CAPTURE_DRIVER", "mock")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.OutputPath() != "/tmp/docs/movie.mp4" {
		t.Errorf("環境変数の記録先が反映されていません: got %s", cfg.OutputPath())
	}
	if cfg.Capture.Driver != "mock" || cfg.Log.Level != "debug" {
		t.Errorf("環境変数のドライバーまたはログレベルが反映されていません: %s, %s", cfg.Capture.Driver, cfg.Log.Level)
	}
}

// TestLoadFile はYAMLファイルからの読み込みをテストする
func TestLoadFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CAPTURE_DRIVER", "")

	path := filepath.Join(t.TempDir(), "satsuei.yaml")
	content := `
server:
  port: 9191
capture:
  driver: mock
  frame_rate: 30
  scan_interval: 2s
  cameras:
    - device: /dev/video2
      name: 外付けカメラ
      position: back
recording:
  container: srec
library:
  backend: local
  dir: /srv/library
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("設定ファイルの読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("ポートが反映されていません: got %d", cfg.Server.Port)
	}
	if cfg.Capture.FrameRate != 30 || cfg.Capture.ScanInterval != 2*time.Second {
		t.Errorf("キャプチャ設定が反映されていません: %+v", cfg.Capture)
	}
	// ファイルに書いていない項目はデフォルト値のまま
	if cfg.Capture.Width != 1280 || cfg.Recording.FileName != "movie.mp4" {
		t.Errorf("デフォルト値が失われています: %+v", cfg.Capture)
	}
	if len(cfg.Capture.Cameras) != 1 || cfg.Capture.Cameras[0].Position != "back" {
		t.Errorf("カメラ設定が反映されていません: %+v", cfg.Capture.Cameras)
	}
	if cfg.LibraryDir() != "/srv/library" {
		t.Errorf("ライブラリディレクトリが違います: got %s", cfg.LibraryDir())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("存在しないファイルでエラーが発生しませんでした")
	}
}
