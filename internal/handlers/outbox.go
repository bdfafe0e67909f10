package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prudhivi99/Distributed-Systems/shopsaga/internal/models"
)

const defaultFailedLimit = 100

type OutboxAdmin interface {
	FindFailed(ctx context.Context, limit int) ([]models.EventPublication, error)
	Requeue(ctx context.Context, id uuid.UUID) (bool, error)
}

type Notifier interface {
	Notify()
}

// OutboxHandler exposes dead-lettered publications to operators.
type OutboxHandler struct {
	outbox   OutboxAdmin
	notifier Notifier
}

func NewOutboxHandler(outbox OutboxAdmin, notifier Notifier) *OutboxHandler {
	return &OutboxHandler{outbox: outbox, notifier: notifier}
}

func (h *OutboxHandler) ListFailed(c *gin.Context) {
	limit := defaultFailedLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	failed, err := h.outbox.FindFailed(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if failed == nil {
		failed = []models.EventPublication{}
	}
	c.JSON(http.StatusOK, failed)
}

// Requeue clears the failure state of a publication so the dispatcher
// delivers it again.
func (h *OutboxHandler) Requeue(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid publication id"})
		return
	}

	ok, err := h.outbox.Requeue(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "failed publication not found"})
		return
	}

	h.notifier.Notify()
	c.JSON(http.StatusOK, gin.H{"message": "publication requeued", "id": id})
}
