package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/locationd/internal/models"
)

// locatingRequest 定位请求
type locatingRequest struct {
	Uid         int32                 `json:"uid"`
	Pid         int32                 `json:"pid"`
	PackageName string                `json:"package_name" binding:"required"`
	TokenID     uint32                `json:"token_id"`
	UUID        string                `json:"uuid"`
	Config      *models.RequestConfig `json:"config"`
}

func (r *locatingRequest) identity() models.Identity {
	return models.Identity{
		Uid:         r.Uid,
		Pid:         r.Pid,
		PackageName: r.PackageName,
		TokenID:     r.TokenID,
	}
}

// ListAbilities 获取所有能力的状态
func (h *Handler) ListAbilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.dispatcher.States()})
}

// StartLocating 注册定位请求
// POST /api/abilities/:ability/start
func (h *Handler) StartLocating(c *gin.Context) {
	var req locatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	id, err := h.dispatcher.StartLocating(c.Request.Context(), req.identity(), c.Param("ability"), req.UUID, req.Config)
	if err != nil {
		code := statusCode(err)
		if id != "" {
			// 请求已登记，下发失败会在下次聚合时重试
			h.logger.Warn("Request registered but dispatch failed", zap.Error(err), zap.String("uuid", id))
			c.JSON(code, gin.H{"error": err.Error(), "data": gin.H{"uuid": id}})
			return
		}
		h.respondError(c, err, "Failed to start locating")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"uuid": id}})
}

// UpdateLocating 更新定位请求配置
// POST /api/abilities/:ability/update
func (h *Handler) UpdateLocating(c *gin.Context) {
	var req locatingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UUID == "" || req.Config == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.dispatcher.UpdateLocating(c.Request.Context(), req.identity(), c.Param("ability"), req.UUID, req.Config); err != nil {
		h.respondError(c, err, "Failed to update locating")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Request updated"})
}

// StopLocating 注销定位请求
// POST /api/abilities/:ability/stop
func (h *Handler) StopLocating(c *gin.Context) {
	var req locatingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.dispatcher.StopLocating(c.Request.Context(), req.identity(), c.Param("ability"), req.UUID); err != nil {
		h.respondError(c, err, "Failed to stop locating")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Request stopped"})
}

// StopPackage 移除某个包的全部请求
// DELETE /api/packages/:package
func (h *Handler) StopPackage(c *gin.Context) {
	n, err := h.dispatcher.StopPackage(c.Request.Context(), c.Param("package"))
	if err != nil {
		h.respondError(c, err, "Failed to stop package")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"removed": n}})
}

// EnableAbility 启用能力
func (h *Handler) EnableAbility(c *gin.Context) {
	if err := h.dispatcher.EnableAbility(c.Param("ability")); err != nil {
		h.respondError(c, err, "Failed to enable ability")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ability enabled"})
}

// DisableAbility 关闭能力，清空其全部请求
func (h *Handler) DisableAbility(c *gin.Context) {
	if err := h.dispatcher.DisableAbility(c.Request.Context(), c.Param("ability")); err != nil {
		h.respondError(c, err, "Failed to disable ability")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ability disabled"})
}

// SetMockLocation 切换模拟定位
// POST /api/abilities/:ability/mock
func (h *Handler) SetMockLocation(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.dispatcher.SetMockLocation(c.Request.Context(), c.Param("ability"), *req.Enabled); err != nil {
		h.respondError(c, err, "Failed to switch mock location")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"mock": *req.Enabled}})
}

// GetRecord 获取能力当前的请求记录
func (h *Handler) GetRecord(c *gin.Context) {
	wr, err := h.dispatcher.Record(c.Param("ability"))
	if err != nil {
		h.respondError(c, err, "Failed to get record")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"device_id": wr.DeviceID(),
			"size":      wr.Size(),
			"entries":   wr.Entries(),
			"summary":   wr.String(),
		},
	})
}

// GetAggregate 获取能力当前的聚合结果
func (h *Handler) GetAggregate(c *gin.Context) {
	agg, err := h.dispatcher.Aggregate(c.Param("ability"))
	if err != nil {
		h.respondError(c, err, "Failed to get aggregate")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": agg})
}
