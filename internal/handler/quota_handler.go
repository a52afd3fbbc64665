package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 90
)

// PoolStats exposes the in-process credential pool counters.
type PoolStats interface {
	Stats() youtube.Stats
}

// QuotaReader reads the persisted daily quota usage.
type QuotaReader interface {
	GetQuotaInfo(ctx context.Context) (*models.QuotaInfo, error)
	GetQuotaHistory(ctx context.Context, days int) ([]*models.APIQuotaUsage, error)
	GetQuotaUsagePercentage(ctx context.Context) (float64, error)
	GetRemainingQuota(ctx context.Context) (int, error)
	IsQuotaExhausted(ctx context.Context) (bool, error)
}

// QuotaHandler serves GET /api/v1/quota.
type QuotaHandler struct {
	pool   PoolStats
	quota  QuotaReader
	logger *zap.Logger
}

// NewQuotaHandler creates a QuotaHandler. quota may be nil when usage is not persisted.
func NewQuotaHandler(pool PoolStats, quota QuotaReader, log *zap.Logger) *QuotaHandler {
	return &QuotaHandler{pool: pool, quota: quota, logger: logger.OrNop(log)}
}

// GetQuota returns pool counters, today's usage and ?days= of history.
func (h *QuotaHandler) GetQuota(c *gin.Context) {
	days := defaultHistoryDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(c, http.StatusBadRequest, "Bad Request", "days must be a non-negative integer")
			return
		}
		days = min(n, maxHistoryDays)
	}

	body := gin.H{"pool": h.pool.Stats()}

	if h.quota != nil {
		ctx := c.Request.Context()

		today, err := h.quota.GetQuotaInfo(ctx)
		if err != nil {
			h.logger.Error("failed to read quota usage", zap.Error(err))
			sendError(c, http.StatusInternalServerError, "Internal Server Error", "failed to read quota usage")
			return
		}
		body["today"] = today

		usage, err := h.usage(ctx)
		if err != nil {
			h.logger.Error("failed to read quota threshold usage", zap.Error(err))
			sendError(c, http.StatusInternalServerError, "Internal Server Error", "failed to read quota usage")
			return
		}
		body["usage_percent"] = usage.percent
		body["remaining_before_threshold"] = usage.remaining
		body["exhausted"] = usage.exhausted

		if days > 0 {
			history, err := h.quota.GetQuotaHistory(ctx, days)
			if err != nil {
				h.logger.Error("failed to read quota history", zap.Int("days", days), zap.Error(err))
				sendError(c, http.StatusInternalServerError, "Internal Server Error", "failed to read quota history")
				return
			}
			body["history"] = history
		}
	}

	c.JSON(http.StatusOK, body)
}

type thresholdUsage struct {
	percent   float64
	remaining int
	exhausted bool
}

// usage reads today's usage against the daily limit and the quota threshold.
func (h *QuotaHandler) usage(ctx context.Context) (thresholdUsage, error) {
	var u thresholdUsage
	var err error
	if u.percent, err = h.quota.GetQuotaUsagePercentage(ctx); err != nil {
		return u, err
	}
	if u.remaining, err = h.quota.GetRemainingQuota(ctx); err != nil {
		return u, err
	}
	u.exhausted, err = h.quota.IsQuotaExhausted(ctx)
	return u, err
}
