package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"satsuei/internal/controller"
	"satsuei/internal/media"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse は状態取得のレスポンス
type StatusResponse struct {
	controller.Status
	Timestamp time.Time `json:"timestamp"`
}

// DevicesResponse はデバイス一覧のレスポンス
type DevicesResponse struct {
	Devices []controller.DeviceInfo `json:"devices"`
}

// handleIndex は操作用のページを返す
func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus は撮影画面の状態を返す
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

// handleDevices はカメラとマイクの一覧を返す
func (s *Server) handleDevices(c *gin.Context) {
	devices, err := s.controller.Devices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "device_enumeration_failed",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}
	if devices == nil {
		devices = []controller.DeviceInfo{}
	}
	c.JSON(http.StatusOK, DevicesResponse{Devices: devices})
}

// action は画面操作を行い、操作後の状態を返すハンドラを作る
//
// 操作はリクエストの切断で中断させない。
func (s *Server) action(op func(ctx context.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		op(context.WithoutCancel(c.Request.Context()))
		c.JSON(http.StatusOK, s.status())
	}
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Status:    s.controller.Status(),
		Timestamp: time.Now(),
	}
}

// handlePreviewStream はプレビューレイヤーの映像をMJPEGで配信する
func (s *Server) handlePreviewStream(c *gin.Context) {
	layer := s.controller.PreviewLayer()

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	var seq uint64
	for {
		sample, err := layer.Next(ctx, seq)
		if err != nil {
			// クライアントが切断された
			return
		}
		seq = sample.Seq
		if sample.Format != media.FormatMJPEG {
			continue
		}

		if _, err := writer.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			return
		}
		if _, err := writer.Write(sample.Data); err != nil {
			return
		}
		if _, err := writer.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}
