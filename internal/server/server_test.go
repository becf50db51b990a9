package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"satsuei/internal/config"
	"satsuei/internal/controller"
	"satsuei/internal/mux"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestConfig はモックデバイスとsrec形式を使う設定を作成する
func newTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Capture.Driver = "mock"
	cfg.Capture.Width = 32
	cfg.Capture.Height = 24
	cfg.Capture.FrameRate = 30
	cfg.Capture.SampleRate = 8000
	cfg.Recording.DocumentDir = "/docs"
	cfg.Recording.Container = mux.ContainerSrec
	return cfg
}

func newTestServer(t *testing.T) (*Server, *controller.Controller) {
	t.Helper()

	cfg := newTestConfig()
	ctrl, err := controller.NewFromConfig(context.Background(), cfg, afero.NewMemMapFs())
	if err != nil {
		t.Fatalf("コントローラーの作成に失敗しました: %v", err)
	}
	t.Cleanup(func() {
		_ = ctrl.Close(context.Background())
	})
	return New(cfg, ctrl), ctrl
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) StatusResponse {
	t.Helper()
	var st StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("レスポンスのデコードに失敗しました: %v", err)
	}
	return st
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("リスナーの作成に失敗しました: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, listener)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("予期しないステータスコード: got %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints はサーバーのエンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	testCases := []struct {
		name           string
		method         string
		endpoint       string
		expectedStatus int
		contentType    string
	}{
		{"ルートエンドポイント", http.MethodGet, "/", http.StatusOK, "text/html"},
		{"ヘルスチェックエンドポイント", http.MethodGet, "/health", http.StatusOK, "application/json"},
		{"ステータスエンドポイント", http.MethodGet, "/api/status", http.StatusOK, "application/json"},
		{"デバイス一覧エンドポイント", http.MethodGet, "/api/devices", http.StatusOK, "application/json"},
		{"操作はPOSTのみ", http.MethodGet, "/api/capture/start", http.StatusNotFound, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, srv, tc.method, tc.endpoint)
			if w.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d", w.Code, tc.expectedStatus)
			}
			if tc.contentType != "" && !strings.HasPrefix(w.Header().Get("Content-Type"), tc.contentType) {
				t.Errorf("予期しないContent-Type: %s", w.Header().Get("Content-Type"))
			}
		})
	}
}

// TestDevices はモックデバイスが返ることをテストする
func TestDevices(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/devices")

	var resp DevicesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスのデコードに失敗しました: %v", err)
	}
	if len(resp.Devices) != 3 {
		t.Fatalf("デバイス数が違います: got %d, want 3", len(resp.Devices))
	}
	if resp.Devices[0].MediaType != "video" || resp.Devices[2].MediaType != "audio" {
		t.Errorf("予期しない並び順: %+v", resp.Devices)
	}
}

// TestCaptureActions は撮影の開始・切り替え・終了をテストする
func TestCaptureActions(t *testing.T) {
	srv, ctrl := newTestServer(t)

	st := decodeStatus(t, doRequest(t, srv, http.MethodPost, "/api/capture/start"))
	if !st.Running || !st.Recording || !st.Preview {
		t.Fatalf("撮影が開始されていません: %+v", st.Status)
	}
	if st.OutputPath != "/docs/movie.mp4" {
		t.Errorf("予期しない記録先: %s", st.OutputPath)
	}
	if st.Camera == nil || st.Camera.Position != "front" {
		t.Fatalf("前面カメラではありません: %+v", st.Camera)
	}

	st = decodeStatus(t, doRequest(t, srv, http.MethodPost, "/api/capture/switch"))
	if st.Camera == nil || st.Camera.Position != "back" {
		t.Errorf("背面カメラに切り替わっていません: %+v", st.Camera)
	}

	st = decodeStatus(t, doRequest(t, srv, http.MethodPost, "/api/capture/stop"))
	if st.Running || st.Recording || st.Preview {
		t.Errorf("撮影が終了していません: %+v", st.Status)
	}
	if ctrl.PreviewLayer().Superlayer() != nil {
		t.Error("プレビューレイヤーが外れていません")
	}
}

// TestViewActions は画面の表示と記録の切り替えをテストする
func TestViewActions(t *testing.T) {
	srv, _ := newTestServer(t)

	st := decodeStatus(t, doRequest(t, srv, http.MethodPost, "/api/view/appear"))
	if !st.Appeared || !st.Running || st.Recording {
		t.Fatalf("予期しない状態: %+v", st.Status)
	}

	st = decodeStatus(t, doRequest(t, srv, http.MethodPost, "/api/recording/toggle"))
	if !st.Recording {
		t.Fatal("記録が開始されていません")
	}
	st = decodeStatus(t, doRequest(t, srv, http.MethodPost, "/api/recording/toggle"))
	if st.Recording {
		t.Error("記録が停止されていません")
	}

	st = decodeStatus(t, doRequest(t, srv, http.MethodPost, "/api/view/disappear"))
	if st.Appeared || st.Running {
		t.Errorf("予期しない状態: %+v", st.Status)
	}
}

// TestPreviewStream はMJPEGストリームの最初のフレームを読む
func TestPreviewStream(t *testing.T) {
	srv, ctrl := newTestServer(t)
	ctrl.StartCapture(context.Background())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/preview/stream", nil)
	if err != nil {
		t.Fatalf("リクエストの作成に失敗しました: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("予期しないContent-Type: %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	var sawBoundary, sawJPEG bool
	for !sawJPEG {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("ストリームの読み込みに失敗しました: %v", err)
		}
		switch strings.TrimSpace(line) {
		case "--frame":
			sawBoundary = true
		case "Content-Type: image/jpeg":
			sawJPEG = sawBoundary
		}
	}
}
