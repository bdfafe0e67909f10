package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/apperrors"
)

// statusFor maps an error kind to an HTTP status. Errors without a kind
// are internal.
func statusFor(err error) int {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindInsufficientStock:
		return http.StatusConflict
	case apperrors.KindInvalidOperation, apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.Error(err)
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperrors.KindOf(err)})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
