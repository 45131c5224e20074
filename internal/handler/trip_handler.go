package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/service"
	"github.com/jengzang/commute-trips-backend/pkg/response"
)

// TripHandler handles HTTP requests for trips
type TripHandler struct {
	service *service.TripService
}

// NewTripHandler creates a new trip handler
func NewTripHandler(service *service.TripService) *TripHandler {
	return &TripHandler{service: service}
}

// GetTrips handles GET /api/v1/me/trips
func (h *TripHandler) GetTrips(c *gin.Context) {
	var filter models.TripFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters", err)
		return
	}

	trips, err := h.service.GetTrips(c.Request.Context(), subject(c), filter)
	if err != nil {
		serviceError(c, "Failed to get trips", err)
		return
	}

	response.Success(c, trips)
}

// GetTripByID handles GET /api/v1/me/trips/:id
func (h *TripHandler) GetTripByID(c *gin.Context) {
	trip, err := h.service.GetTripByID(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		serviceError(c, "Failed to get trip", err)
		return
	}

	response.Success(c, trip)
}

// GetTripTrace handles GET /api/v1/me/trips/:id/trace
func (h *TripHandler) GetTripTrace(c *gin.Context) {
	trace, err := h.service.GetTripTrace(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		serviceError(c, "Failed to get trip trace", err)
		return
	}

	response.Success(c, trace)
}
