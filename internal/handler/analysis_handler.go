package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/service"
	"github.com/jengzang/commute-trips-backend/pkg/response"
)

// AnalysisHandler handles on-demand analysis and trip deletion
type AnalysisHandler struct {
	service *service.AnalysisService
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(service *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

// AnalyzeDateRequest is the body of POST /analysis/date
type AnalyzeDateRequest struct {
	Date string `json:"date" binding:"required"`
}

// AnalyzeRangeRequest is the body of POST /analysis/range
type AnalyzeRangeRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// AnalyzeDate analyses one date of the caller
// POST /api/v1/me/analysis/date
func (h *AnalysisHandler) AnalyzeDate(c *gin.Context) {
	var req AnalyzeDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	subjectID := subject(c)
	result, err := h.service.AnalyzeDate(c.Request.Context(), subjectID, req.Date)
	if err != nil {
		if errors.Is(err, service.ErrAnalysisConflict) {
			// Someone else is analysing the date; their result will land
			response.Status(c, http.StatusAccepted, models.AnalysisResult{
				SubjectID: subjectID,
				Date:      req.Date,
				Outcome:   models.OutcomeDeferred,
				Error:     err.Error(),
			})
			return
		}
		serviceError(c, "Analysis failed", err)
		return
	}

	response.Success(c, result)
}

// AnalyzeRange analyses every date of a range. Per-date outcomes are in the
// results.
// POST /api/v1/me/analysis/range
func (h *AnalysisHandler) AnalyzeRange(c *gin.Context) {
	var req AnalyzeRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	results, err := h.service.AnalyzeRange(c.Request.Context(), subject(c), req.From, req.To)
	if err != nil {
		serviceError(c, "Analysis failed", err)
		return
	}

	response.Success(c, gin.H{"results": results})
}

// DeleteTrips removes the trips of a date
// DELETE /api/v1/me/trips?date=&confirm=
func (h *AnalysisHandler) DeleteTrips(c *gin.Context) {
	date := c.Query("date")
	deleted, err := h.service.DeleteTrips(c.Request.Context(), subject(c), date, c.Query("confirm"))
	if err != nil {
		serviceError(c, "Failed to delete trips", err)
		return
	}

	response.Success(c, gin.H{"date": date, "deleted": deleted})
}
