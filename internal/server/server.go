package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/camera"
	"github.com/jbravo94/glass-companion/internal/config"
	"github.com/jbravo94/glass-companion/internal/frame"
	"github.com/jbravo94/glass-companion/internal/timelapse"
)

var (
	// ErrBindFailure はリッスンポートを確保できなかったことを示す
	ErrBindFailure = errors.New("リッスンポートの確保に失敗しました")

	// ErrAlreadyStarted は停止していないサーバーを起動しようとしたことを示す
	ErrAlreadyStarted = errors.New("サーバーは既に起動しています")
)

// State はサーバーの状態
type State int32

// State の定数定義
const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText はJSONでの表現を返す
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Cameras はサーバーが扱うカメラ群。camera.Manager が実装する
type Cameras interface {
	Channels() []camera.Channel
	Controller(index int) (*camera.Controller, error)
	Slot(index int) (*frame.Slot, bool)
	Snapshot(index int) (*frame.Frame, bool)
	Infos() []camera.Info
	ZoomAll(factor float64) error
	ResetAll() error
	TriggerAutoFocusAll() error
	ToggleTorch() (bool, error)
	ReopenChannel(ctx context.Context, index int) error
}

// TimelapseStatus はタイムラプスの状態を返すもの
type TimelapseStatus interface {
	Status() timelapse.Status
}

// Option はServerの追加設定
type Option func(*Server)

// WithTimelapse は /api/status にタイムラプスの状態を含める
func WithTimelapse(t TimelapseStatus) Option {
	return func(s *Server) {
		s.timelapse = t
	}
}

// WithTitle はページタイトルを設定する
func WithTitle(title string) Option {
	return func(s *Server) {
		s.title = title
	}
}

// Server はカメラ映像を配信するHTTPサーバー
type Server struct {
	config    *config.Config
	cameras   Cameras
	timelapse TimelapseStatus
	title     string
	logger    *zap.Logger
	handler   http.Handler
	upgrader  websocket.Upgrader

	state atomic.Int32

	// mu は Start と Stop を直列化する
	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	serveDone  chan struct{}

	// stopCh は Stop で閉じられ、全ストリームループが監視する
	stopMu sync.RWMutex
	stopCh chan struct{}

	clientsMu sync.Mutex
	clients   map[string]*streamClient
	clientsWG sync.WaitGroup
	stopping  bool
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, cameras Cameras, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:  cfg,
		cameras: cameras,
		title:   "Glass Companion",
		logger:  logger.With(zap.String("component", "server")),
		clients: make(map[string]*streamClient),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	})
	s.handler = corsHandler.Handler(s.newRouter())

	return s
}

// newRouter はginのルーターを作成する
func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			s.logger.Info("HTTPリクエスト",
				zap.String("method", param.Method),
				zap.String("path", param.Path),
				zap.Int("status", param.StatusCode),
				zap.Duration("latency", param.Latency),
				zap.String("client_ip", param.ClientIP),
			)
			return ""
		},
		SkipPaths: []string{"/health"},
	}))
	router.Use(gin.Recovery())
	router.Use(s.rejectWhileStopping)

	s.setupRoutes(router)
	return router
}

// Handler はCORSを含むHTTPハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.handler
}

// State は現在の状態を返す
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	if old != state {
		s.logger.Debug("サーバーの状態遷移", zap.Stringer("from", old), zap.Stringer("to", state))
	}
}

// Addr は実際にリッスンしているアドレスを返す。起動していなければ設定値を返す
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.ServerAddress()
}

// Start はリスナーを確保して配信を開始する。ブロックしない
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateStopped {
		return ErrAlreadyStarted
	}
	s.setState(StateStarting)

	addr := s.config.ServerAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.setState(StateStopped)
		return fmt.Errorf("%w: %s: %w", ErrBindFailure, addr, err)
	}

	s.stopMu.Lock()
	s.stopCh = make(chan struct{})
	s.stopMu.Unlock()

	s.clientsMu.Lock()
	s.stopping = false
	s.clientsMu.Unlock()

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}
	s.serveDone = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTPサーバーが異常終了しました", zap.Error(err))
		}
	}(s.httpServer, s.serveDone)

	s.setState(StateListening)
	s.logger.Info("HTTPサーバーを起動しました", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop は全ストリームに停止を通知し、リスナーを閉じる。
// 複数のゴルーチンから呼んでもよく、起動していなければ何もしない
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateListening {
		return nil
	}
	s.setState(StateStopping)
	s.logger.Info("サーバーをシャットダウンしています...")

	// 新しいクライアントの登録を止めてから全ループに通知する
	s.clientsMu.Lock()
	s.stopping = true
	active := len(s.clients)
	s.clientsMu.Unlock()

	s.stopMu.Lock()
	close(s.stopCh)
	s.stopMu.Unlock()

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("グレースフルシャットダウンに失敗したため強制終了します", zap.Error(err))
		if err := s.httpServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("サーバーのクローズに失敗: %w", err))
		}
	}

	s.clientsWG.Wait()
	<-s.serveDone

	s.listener = nil
	s.httpServer = nil
	s.setState(StateStopped)

	s.logger.Info("サーバーが正常にシャットダウンされました", zap.Int("closed_clients", active))
	return errors.Join(errs...)
}

// Run は Start してから ctx が終わるまで待ち、Stop する
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop(context.Background())
}

// stopSignal は現在の停止通知チャンネルを返す
func (s *Server) stopSignal() <-chan struct{} {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()
	return s.stopCh
}

// rejectWhileStopping は停止処理中のリクエストを即座に 503 で返す
func (s *Server) rejectWhileStopping(c *gin.Context) {
	if s.State() == StateStopping {
		respondError(c, http.StatusServiceUnavailable, "server_stopping", "サーバーは停止処理中です")
		return
	}
	c.Next()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
