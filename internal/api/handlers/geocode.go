package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReverseGeocode 逆地理编码
// GET /api/geocode/reverse?lat=&lng=
func (h *Handler) ReverseGeocode(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid latitude"})
		return
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid longitude"})
		return
	}

	addr, err := h.geocoder.ReverseGeocode(c.Request.Context(), lat, lng)
	if err != nil {
		code := statusCode(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadGateway
			h.logger.Warn("Reverse geocode failed",
				zap.Error(err),
				zap.String("provider", h.geocoder.Provider()),
				zap.Float64("lat", lat),
				zap.Float64("lng", lng))
		}
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": addr})
}
