package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/service"
	"github.com/jengzang/commute-trips-backend/pkg/response"
)

// StatsHandler handles HTTP requests for statistics
type StatsHandler struct {
	statsService *service.StatsService
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(statsService *service.StatsService) *StatsHandler {
	return &StatsHandler{
		statsService: statsService,
	}
}

// GetStatistics handles GET /api/v1/me/stats
func (h *StatsHandler) GetStatistics(c *gin.Context) {
	var filter models.StatsFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}

	stats, err := h.statsService.GetSubjectStatistics(c.Request.Context(), subject(c), filter)
	if err != nil {
		serviceError(c, "Failed to get statistics", err)
		return
	}

	response.Success(c, stats)
}
