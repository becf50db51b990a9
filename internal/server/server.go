package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"satsuei/internal/config"
	"satsuei/internal/controller"
	"satsuei/internal/preview"
)

// Controller はサーバーから操作する撮影画面
type Controller interface {
	StartCapture(ctx context.Context)
	EndCapture(ctx context.Context)
	SwitchCamera(ctx context.Context)
	Appear(ctx context.Context)
	Disappear(ctx context.Context)
	ToggleRecording(ctx context.Context)

	Status() controller.Status
	Devices(ctx context.Context) ([]controller.DeviceInfo, error)
	PreviewLayer() *preview.Layer
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	controller Controller
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, ctrl Controller) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		config:     cfg,
		controller: ctrl,
		engine:     engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/devices", s.handleDevices)

	api.POST("/capture/start", s.action(s.controller.StartCapture))
	api.POST("/capture/stop", s.action(s.controller.EndCapture))
	api.POST("/capture/switch", s.action(s.controller.SwitchCamera))
	api.POST("/view/appear", s.action(s.controller.Appear))
	api.POST("/view/disappear", s.action(s.controller.Disappear))
	api.POST("/recording/toggle", s.action(s.controller.ToggleRecording))

	api.GET("/preview/stream", s.handlePreviewStream)
}

// Start はサーバーを起動し、シグナルかコンテキストのキャンセルで停止する
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve は指定のリスナーで配信し、コンテキストのキャンセルで停止する
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	// 停止時にストリーミング中のリクエストも終わらせる
	s.httpServer.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		slog.Info("server: HTTPサーバーを起動しています", "addr", listener.Addr().String())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	slog.Info("server: サーバーをシャットダウンしています")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	slog.Info("server: サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストごとにログを残すミドルウェア
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.Debug("server: リクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
