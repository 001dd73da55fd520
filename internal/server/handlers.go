package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jbravo94/glass-companion/internal/camera"
	"github.com/jbravo94/glass-companion/internal/frame"
	"github.com/jbravo94/glass-companion/internal/timelapse"
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

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	State State  `json:"state"`
}

// ChannelStatus はチャンネルごとの状態
type ChannelStatus struct {
	camera.Info
	Slot    frame.Stats `json:"slot"`
	Clients int         `json:"clients"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string            `json:"status"`
	Server    ServerInfo        `json:"server"`
	Channels  []ChannelStatus   `json:"channels"`
	Clients   []ClientInfo      `json:"clients"`
	Timelapse *timelapse.Status `json:"timelapse,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ChannelSummary は /api/channels の1要素
type ChannelSummary struct {
	Index       int          `json:"index"`
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	State       camera.State `json:"state"`
	ViewerURL   string       `json:"viewer_url"`
	StreamURL   string       `json:"stream_url"`
	SnapshotURL string       `json:"snapshot_url"`
	WebSocket   string       `json:"websocket_url,omitempty"`
}

// ChannelsResponse はチャンネル一覧のレスポンス
type ChannelsResponse struct {
	Channels []ChannelSummary `json:"channels"`
}

// InfosResponse は全チャンネル操作のレスポンス
type InfosResponse struct {
	Channels []camera.Info `json:"channels"`
}

// ZoomRequest はズーム操作のリクエスト
type ZoomRequest struct {
	Factor float64 `json:"factor"`
}

// OffsetRequest はオフセット移動のリクエスト
type OffsetRequest struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

// TorchResponse はライト切り替えのレスポンス
type TorchResponse struct {
	Torch bool `json:"torch"`
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)

	// チャンネルごとのページとストリーム
	for _, ch := range s.cameras.Channels() {
		idx := ch.Index
		r.GET(fmt.Sprintf("/camera%d", idx), s.handleCameraPage(ch))
		r.GET(fmt.Sprintf("/stream%d", idx), s.handleStream(idx))
		r.GET(fmt.Sprintf("/snapshot%d", idx), s.handleSnapshot(idx))
		if s.config.Stream.WebSocket {
			r.GET(fmt.Sprintf("/ws%d", idx), s.handleWebSocket(idx))
		}
	}

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/channels", s.handleChannels)

		api.POST("/channels/:index/zoom", s.handleChannelZoom)
		api.POST("/channels/:index/offset", s.handleChannelOffset)
		api.POST("/channels/:index/autofocus", s.handleChannelAutoFocus)
		api.POST("/channels/:index/reset", s.handleChannelReset)
		api.POST("/channels/:index/reopen", s.handleChannelReopen)

		api.POST("/zoom", s.handleZoomAll)
		api.POST("/reset", s.handleResetAll)
		api.POST("/autofocus", s.handleAutoFocusAll)
		api.POST("/torch", s.handleTorch)
	}
}

// handleIndex はチャンネル一覧ページ
func (s *Server) handleIndex(c *gin.Context) {
	page := indexPage{Title: s.title}
	for _, ch := range s.cameras.Channels() {
		page.Channels = append(page.Channels, channelLink{Index: ch.Index, Name: ch.Name})
	}
	s.renderPage(c, "index.html", page)
}

// handleCameraPage はストリームを埋め込んだビューアーページ
func (s *Server) handleCameraPage(ch camera.Channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.renderPage(c, "camera.html", cameraPage{
			Title:   s.title,
			Channel: channelLink{Index: ch.Index, Name: ch.Name},
		})
	}
}

func (s *Server) renderPage(c *gin.Context, name string, data any) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := pages.ExecuteTemplate(c.Writer, name, data); err != nil {
		s.logger.Error("テンプレートの描画に失敗", zap.String("template", name), zap.Error(err))
	}
}

// handleStream はMJPEGストリーム
func (s *Server) handleStream(index int) gin.HandlerFunc {
	return func(c *gin.Context) {
		slot, ok := s.cameras.Slot(index)
		if !ok {
			respondError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
			return
		}
		s.serveMJPEG(c.Writer, c.Request, index, slot)
	}
}

// handleWebSocket はWebSocketストリーム
func (s *Server) handleWebSocket(index int) gin.HandlerFunc {
	return func(c *gin.Context) {
		slot, ok := s.cameras.Slot(index)
		if !ok {
			respondError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
			return
		}
		s.serveWebSocket(c.Writer, c.Request, index, slot)
	}
}

// handleSnapshot は最新フレームを1枚返す。Slot は消費しない
func (s *Server) handleSnapshot(index int) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, ok := s.cameras.Snapshot(index)
		if !ok {
			respondError(c, http.StatusServiceUnavailable, "no_frame", "フレームがまだありません")
			return
		}
		c.Header("Cache-Control", "no-cache, private")
		c.Data(http.StatusOK, "image/jpeg", f.Data)
	}
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はシステム状態取得エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	clients := s.Clients()
	perChannel := make(map[int]int)
	for _, cl := range clients {
		perChannel[cl.Channel]++
	}

	infos := s.cameras.Infos()
	channels := make([]ChannelStatus, 0, len(infos))
	for _, info := range infos {
		st := ChannelStatus{Info: info, Clients: perChannel[info.Channel.Index]}
		if slot, ok := s.cameras.Slot(info.Channel.Index); ok {
			st.Slot = slot.Stats()
		}
		channels = append(channels, st)
	}

	resp := StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host:  s.config.Server.Host,
			Port:  s.config.Server.Port,
			State: s.State(),
		},
		Channels:  channels,
		Clients:   clients,
		Timestamp: time.Now(),
	}
	if s.timelapse != nil {
		st := s.timelapse.Status()
		resp.Timelapse = &st
	}

	c.JSON(http.StatusOK, resp)
}

// handleChannels はチャンネル一覧取得エンドポイント
func (s *Server) handleChannels(c *gin.Context) {
	infos := s.cameras.Infos()
	channels := make([]ChannelSummary, 0, len(infos))
	for _, info := range infos {
		idx := info.Channel.Index
		summary := ChannelSummary{
			Index:       idx,
			ID:          info.Channel.ID,
			Name:        info.Channel.Name,
			State:       info.State,
			ViewerURL:   fmt.Sprintf("/camera%d", idx),
			StreamURL:   fmt.Sprintf("/stream%d", idx),
			SnapshotURL: fmt.Sprintf("/snapshot%d", idx),
		}
		if s.config.Stream.WebSocket {
			summary.WebSocket = fmt.Sprintf("/ws%d", idx)
		}
		channels = append(channels, summary)
	}
	c.JSON(http.StatusOK, ChannelsResponse{Channels: channels})
}

// handleChannelZoom はズーム倍率に factor を掛ける
func (s *Server) handleChannelZoom(c *gin.Context) {
	ctrl, ok := s.controllerParam(c)
	if !ok {
		return
	}
	var req ZoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Factor <= 0 {
		respondError(c, http.StatusBadRequest, "invalid_request", "factor には正の数を指定してください")
		return
	}
	s.respondControl(c, ctrl, ctrl.SetZoom(req.Factor))
}

// handleChannelOffset はオフセットを相対移動する
func (s *Server) handleChannelOffset(c *gin.Context) {
	ctrl, ok := s.controllerParam(c)
	if !ok {
		return
	}
	var req OffsetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "dx, dy を指定してください")
		return
	}
	s.respondControl(c, ctrl, ctrl.Move(req.DX, req.DY))
}

// handleChannelAutoFocus はAFをトリガーする
func (s *Server) handleChannelAutoFocus(c *gin.Context) {
	ctrl, ok := s.controllerParam(c)
	if !ok {
		return
	}
	s.respondControl(c, ctrl, ctrl.TriggerAutoFocus())
}

// handleChannelReset はズームとオフセットをリセットする
func (s *Server) handleChannelReset(c *gin.Context) {
	ctrl, ok := s.controllerParam(c)
	if !ok {
		return
	}
	s.respondControl(c, ctrl, ctrl.Reset())
}

// handleChannelReopen はチャンネルを閉じてから開き直す。起動時に失敗したチャンネルの再試行に使う
func (s *Server) handleChannelReopen(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_channel", "チャンネル番号が不正です")
		return
	}
	if err := s.cameras.ReopenChannel(c.Request.Context(), index); err != nil {
		s.respondCameraError(c, err)
		return
	}
	ctrl, err := s.cameras.Controller(index)
	if err != nil {
		s.respondCameraError(c, err)
		return
	}
	s.logger.Info("チャンネルを再オープンしました", zap.Int("channel", index))
	c.JSON(http.StatusOK, ctrl.Info())
}

// handleZoomAll は全チャンネルのズーム倍率に factor を掛ける
func (s *Server) handleZoomAll(c *gin.Context) {
	var req ZoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Factor <= 0 {
		respondError(c, http.StatusBadRequest, "invalid_request", "factor には正の数を指定してください")
		return
	}
	if err := s.cameras.ZoomAll(req.Factor); err != nil {
		s.respondCameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, InfosResponse{Channels: s.cameras.Infos()})
}

// handleResetAll は全チャンネルの設定をリセットする
func (s *Server) handleResetAll(c *gin.Context) {
	if err := s.cameras.ResetAll(); err != nil {
		s.respondCameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, InfosResponse{Channels: s.cameras.Infos()})
}

// handleAutoFocusAll は開いている全チャンネルでAFをトリガーする
func (s *Server) handleAutoFocusAll(c *gin.Context) {
	if err := s.cameras.TriggerAutoFocusAll(); err != nil {
		s.respondCameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, InfosResponse{Channels: s.cameras.Infos()})
}

// handleTorch はライトを切り替える
func (s *Server) handleTorch(c *gin.Context) {
	on, err := s.cameras.ToggleTorch()
	if err != nil {
		s.respondCameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, TorchResponse{Torch: on})
}

func (s *Server) controllerParam(c *gin.Context) (*camera.Controller, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_channel", "チャンネル番号が不正です")
		return nil, false
	}
	ctrl, err := s.cameras.Controller(index)
	if err != nil {
		s.respondCameraError(c, err)
		return nil, false
	}
	return ctrl, true
}

func (s *Server) respondControl(c *gin.Context, ctrl *camera.Controller, err error) {
	if err != nil {
		s.respondCameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Info())
}

// respondCameraError はカメラのエラーをHTTPステータスに変換する
func (s *Server) respondCameraError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, camera.ErrUnknownChannel):
		respondError(c, http.StatusNotFound, "camera_not_found", err.Error())
	case errors.Is(err, camera.ErrChannelClosed):
		respondError(c, http.StatusConflict, "camera_closed", err.Error())
	case errors.Is(err, camera.ErrDeviceUnavailable):
		respondError(c, http.StatusServiceUnavailable, "camera_unavailable", err.Error())
	case errors.Is(err, camera.ErrTorchUnsupported):
		respondError(c, http.StatusNotImplemented, "torch_unsupported", err.Error())
	default:
		s.logger.Warn("カメラ操作に失敗", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "camera_error", err.Error())
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}
