package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/langchou/locationd/internal/ability"
	"github.com/langchou/locationd/internal/models"
	"github.com/langchou/locationd/internal/service"
	"github.com/langchou/locationd/pkg/ws"
)

// ReverseGeocoder 逆地理编码
type ReverseGeocoder interface {
	Provider() string
	ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error)
}

// HistoryLister 请求历史查询
type HistoryLister interface {
	ListHistory(ctx context.Context, ability string, limit int) ([]*models.RequestHistory, error)
}

// Handler HTTP 处理器
type Handler struct {
	logger     *zap.Logger
	dispatcher *service.Dispatcher
	geocoder   ReverseGeocoder
	history    HistoryLister // 未配置数据库时为 nil
	wsHub      *ws.Hub
	upgrader   websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	dispatcher *service.Dispatcher,
	geocoder ReverseGeocoder,
	history HistoryLister,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:     logger,
		dispatcher: dispatcher,
		geocoder:   geocoder,
		history:    history,
		wsHub:      wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 能力与请求
		api.GET("/abilities", h.ListAbilities)
		api.POST("/abilities/:ability/start", h.StartLocating)
		api.POST("/abilities/:ability/update", h.UpdateLocating)
		api.POST("/abilities/:ability/stop", h.StopLocating)
		api.POST("/abilities/:ability/enable", h.EnableAbility)
		api.POST("/abilities/:ability/disable", h.DisableAbility)
		api.POST("/abilities/:ability/mock", h.SetMockLocation)
		api.GET("/abilities/:ability/record", h.GetRecord)
		api.GET("/abilities/:ability/aggregate", h.GetAggregate)
		api.DELETE("/packages/:package", h.StopPackage) // 进程退出

		// 逆地理编码
		api.GET("/geocode/reverse", h.ReverseGeocode)

		// 历史
		api.GET("/history", h.ListHistory)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)

	// Prometheus
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
		"abilities":  len(h.dispatcher.States()),
		"history":    h.history != nil,
	})
}

// statusCode 将业务错误映射为 HTTP 状态码
func statusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownAbility), errors.Is(err, service.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPermissionDenied), errors.Is(err, service.ErrMockNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAbilityDisabled), errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, service.ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrDispatchFailed):
		return http.StatusBadGateway
	case errors.Is(err, ability.ErrInvalidCoordinate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError 输出错误，5xx 记录日志
func (h *Handler) respondError(c *gin.Context, err error, msg string) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
