package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	Recording RecordingConfig `yaml:"recording"`
	Library   LibraryConfig   `yaml:"library"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 終了待ちの上限
}

// CaptureConfig はデバイスと入力源の設定
type CaptureConfig struct {
	// Driver は linux（v4l2/alsa）か mock
	Driver string `yaml:"driver"`

	// カメラ固有の設定（向きと表示名）
	Cameras []CameraDevice `yaml:"cameras"`

	FrameRate  int    `yaml:"frame_rate"` // フレームレート (fps)
	Width      int    `yaml:"width"`      // 画像幅
	Height     int    `yaml:"height"`     // 画像高さ
	Quality    int    `yaml:"quality"`    // MJPEG品質 (2〜31)
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	FFmpegPath string `yaml:"ffmpeg_path"`

	// ScanInterval はデバイスの接続・切断を調べる間隔
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	Device   string `yaml:"device"`   // デバイスパス (例: /dev/video0)
	Name     string `yaml:"name"`     // カメラ名
	Position string `yaml:"position"` // front / back
}

// RecordingConfig は記録の設定
type RecordingConfig struct {
	DocumentDir string `yaml:"document_dir"` // 記録先ディレクトリ
	FileName    string `yaml:"file_name"`    // 記録ファイル名
	Container   string `yaml:"container"`    // auto / mp4 / srec
	Quality     int    `yaml:"quality"`      // 品質 (1-5)
}

// LibraryConfig は記録後の保存先の設定
type LibraryConfig struct {
	Backend  string `yaml:"backend"` // none / local / s3 / gcs
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // text / json

	// File が空でなければローテーションするファイルにも出力する
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 10 * time.Second,
		},
		Capture: CaptureConfig{
			Driver:       "linux",
			Cameras:      []CameraDevice{},
			FrameRate:    15,
			Width:        1280,
			Height:       720,
			Quality:      3,
			SampleRate:   48000,
			Channels:     1,
			FFmpegPath:   "ffmpeg",
			ScanInterval: 5 * time.Second,
		},
		Recording: RecordingConfig{
			DocumentDir: defaultDocumentDir(),
			FileName:    "movie.mp4",
			Container:   "auto",
			Quality:     3,
		},
		Library: LibraryConfig{
			Backend: "none",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load は設定を読み込む
// CONFIG_FILE が指定されていればYAMLファイルを読み、環境変数で上書きする
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile は指定のYAMLファイルから設定を読み込む。空ならデフォルト値を使う
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Recording.DocumentDir = getEnvOrDefault("DOCUMENT_DIR", c.Recording.DocumentDir)
	c.Capture.Driver = getEnvOrDefault("CAPTURE_DRIVER", c.Capture.Driver)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	switch c.Capture.Driver {
	case "linux", "mock":
	default:
		errs = append(errs, fmt.Errorf("無効なキャプチャドライバー: %s", c.Capture.Driver))
	}
	if c.Capture.FrameRate <= 0 || c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("無効な映像設定: %dx%d@%d", c.Capture.Width, c.Capture.Height, c.Capture.FrameRate))
	}
	for _, cam := range c.Capture.Cameras {
		switch cam.Position {
		case "", "front", "back":
		default:
			errs = append(errs, fmt.Errorf("無効なカメラの向き: %s (%s)", cam.Position, cam.Device))
		}
	}

	if c.Recording.DocumentDir == "" {
		errs = append(errs, errors.New("記録先ディレクトリが指定されていません"))
	}
	if c.Recording.FileName == "" || filepath.Base(c.Recording.FileName) != c.Recording.FileName {
		errs = append(errs, fmt.Errorf("無効な記録ファイル名: %q", c.Recording.FileName))
	}
	switch c.Recording.Container {
	case "auto", "mp4", "srec":
	default:
		errs = append(errs, fmt.Errorf("無効なコンテナ形式: %s", c.Recording.Container))
	}

	switch c.Library.Backend {
	case "none", "local":
	case "s3", "gcs":
		if c.Library.Bucket == "" {
			errs = append(errs, fmt.Errorf("%sのバケットが指定されていません", c.Library.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("無効な保存先: %s", c.Library.Backend))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("無効なログレベル: %s", c.Log.Level))
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// OutputPath は記録ファイルのパスを返す
func (c *Config) OutputPath() string {
	return filepath.Join(c.Recording.DocumentDir, c.Recording.FileName)
}

// LibraryDir はローカル保存先のディレクトリを返す
func (c *Config) LibraryDir() string {
	if c.Library.Dir != "" {
		return c.Library.Dir
	}
	return filepath.Join(c.Recording.DocumentDir, "library")
}

// defaultDocumentDir はホームディレクトリ配下の記録先を返す
func defaultDocumentDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "satsuei")
	}
	return filepath.Join(home, "Documents", "satsuei")
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
