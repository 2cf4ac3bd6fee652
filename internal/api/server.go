package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/char5742/stroke-eval/internal/config"
	"github.com/char5742/stroke-eval/internal/features"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server はAPIサーバーを表す構造体
type Server struct {
	server     *http.Server
	cfg        *config.Config
	configPath string
	mutex      sync.RWMutex
	port       int

	service  *StrokeService
	monitor  *features.DeviceMonitor
	upgrader websocket.Upgrader
}

// NewServer は新しいAPIサーバーを作成する。
// monitor が nil の場合、デバイス一覧は要求のたびに走査する。
func NewServer(cfg *config.Config, configPath string, port int, service *StrokeService, monitor *features.DeviceMonitor) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		port:       port,
		service:    service,
		monitor:    monitor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// ローカルのツールから接続されるのでオリジンは確認しない
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler はAPIのルーティングを行うハンドラを返す
func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()
	s.setupRoutes(router)
	return router
}

// Start はAPIサーバーを開始する
func (s *Server) Start() error {
	// HTTPサーバーの設定
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// サーバーの起動
	logger.Infof("APIサーバーを開始します: http://localhost:%d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop はAPIサーバーを停止する
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		logger.Info("APIサーバーを停止します...")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetConfig は現在の設定のコピーを返す
func (s *Server) GetConfig() *config.Config {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.cfg.Clone()
}

// UpdateConfig は設定を更新してサービスに反映する
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mutex.Lock()
	s.cfg = cfg
	s.mutex.Unlock()

	s.service.UpdateConfig(cfg.Clone())
}

// ConfigPath は設定ファイルのパスを返す
func (s *Server) ConfigPath() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.configPath
}

// writeJSON はJSONレスポンスを書き込む
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Warnf("JSONエンコードエラー: %v", err)
		}
	}
}

// writeError はエラーレスポンスを書き込む
func writeError(w http.ResponseWriter, status int, message string) {
	response := map[string]string{"error": message}
	writeJSON(w, status, response)
}
