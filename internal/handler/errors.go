package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/commute-trips-backend/internal/middleware"
	"github.com/jengzang/commute-trips-backend/internal/models"
	"github.com/jengzang/commute-trips-backend/internal/service"
	"github.com/jengzang/commute-trips-backend/pkg/response"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, service.ErrConfirmationRequired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRetentionViolation), errors.Is(err, service.ErrAnalysisConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func serviceError(c *gin.Context, message string, err error) {
	response.Error(c, statusFor(err), message, err)
}

// subject returns the authenticated subject set by middleware.Auth
func subject(c *gin.Context) string {
	return c.GetString(middleware.SubjectKey)
}
