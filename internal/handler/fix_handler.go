package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/service"
	"github.com/jengzang/commute-trips-backend/pkg/response"
)

// MaxFixBatch is the largest number of fixes accepted in one request
const MaxFixBatch = 1000

// FixHandler handles device fix uploads
type FixHandler struct {
	service *service.IngestService
}

// NewFixHandler creates a new fix handler
func NewFixHandler(service *service.IngestService) *FixHandler {
	return &FixHandler{service: service}
}

// Ingest handles POST /api/v1/fixes. The body is one fix or an array of
// fixes; invalid items are rejected individually.
func (h *FixHandler) Ingest(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "Failed to read request body", err)
		return
	}

	var inputs []models.FixInput
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &inputs)
	} else {
		var input models.FixInput
		err = json.Unmarshal(body, &input)
		inputs = []models.FixInput{input}
	}
	if err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	if len(inputs) == 0 {
		response.BadRequest(c, "Invalid request body", fmt.Errorf("no fixes"))
		return
	}
	if len(inputs) > MaxFixBatch {
		response.BadRequest(c, "Invalid request body", fmt.Errorf("at most %d fixes per request", MaxFixBatch))
		return
	}

	result, err := h.service.IngestBatch(c.Request.Context(), inputs)
	if err != nil {
		response.InternalError(c, "Failed to store fixes", err)
		return
	}

	response.Success(c, result)
}

// Health handles GET /health
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}
