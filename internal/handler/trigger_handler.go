package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/queue"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

// Enqueuer queues collector tasks. *queue.Client implements it.
type Enqueuer interface {
	EnqueueTick(ctx context.Context, now time.Time, force bool) (*asynq.TaskInfo, error)
	EnqueueDiscovery(ctx context.Context, now time.Time) (*asynq.TaskInfo, error)
}

// TickRequest is the optional body of POST /api/v1/ticks.
type TickRequest struct {
	// At selects the hour to sample. Defaults to now.
	At    *time.Time `json:"at"`
	Force bool       `json:"force"`
}

// EnqueueResponse is returned for an accepted trigger.
type EnqueueResponse struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
	Queue  string `json:"queue"`
}

// TriggerHandler enqueues ticks and discovery runs on demand.
type TriggerHandler struct {
	queue  Enqueuer
	logger *zap.Logger
	now    func() time.Time
}

// NewTriggerHandler creates a TriggerHandler.
func NewTriggerHandler(q Enqueuer, log *zap.Logger) *TriggerHandler {
	return &TriggerHandler{queue: q, logger: logger.OrNop(log), now: time.Now}
}

// EnqueueTick handles POST /api/v1/ticks.
func (h *TriggerHandler) EnqueueTick(c *gin.Context) {
	var req TickRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, "Bad Request", "Invalid request payload: "+err.Error())
			return
		}
	}
	if c.Query("force") == "true" {
		req.Force = true
	}

	at := h.now()
	if req.At != nil {
		at = *req.At
	}

	info, err := h.queue.EnqueueTick(c.Request.Context(), at, req.Force)
	h.respond(c, info, err)
}

// EnqueueDiscovery handles POST /api/v1/discoveries.
func (h *TriggerHandler) EnqueueDiscovery(c *gin.Context) {
	info, err := h.queue.EnqueueDiscovery(c.Request.Context(), h.now())
	h.respond(c, info, err)
}

func (h *TriggerHandler) respond(c *gin.Context, info *asynq.TaskInfo, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, EnqueueResponse{TaskID: info.ID, Type: info.Type, Queue: info.Queue})
	case errors.Is(err, queue.ErrAlreadyQueued):
		sendError(c, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("failed to enqueue task", zap.String("path", c.Request.URL.Path), zap.Error(err))
		sendError(c, http.StatusInternalServerError, "Internal Server Error", "failed to enqueue task")
	}
}
