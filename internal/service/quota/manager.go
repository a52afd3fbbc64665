// Package quota enforces the persisted daily API quota budget.
package quota

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/repository"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

// ErrBudgetReached is returned by Allow once the threshold share of the daily limit is spent.
var ErrBudgetReached = errors.New("daily quota budget reached")

// Manager handles YouTube API quota management. It implements youtube.UsageTracker.
type Manager struct {
	repo             repository.QuotaRepository
	dailyLimit       int
	thresholdPercent int // Stop processing when this % of quota is used
	logger           *zap.Logger
}

// NewManager creates a new quota manager
func NewManager(repo repository.QuotaRepository, dailyLimit int, thresholdPercent int, log *zap.Logger) *Manager {
	if dailyLimit <= 0 {
		dailyLimit = 10000 // YouTube API v3 default
	}
	if thresholdPercent <= 0 || thresholdPercent > 100 {
		thresholdPercent = 90 // Stop at 90% by default
	}

	return &Manager{
		repo:             repo,
		dailyLimit:       dailyLimit,
		thresholdPercent: thresholdPercent,
		logger:           logger.OrNop(log),
	}
}

// DailyLimit returns the configured daily limit.
func (m *Manager) DailyLimit() int {
	return m.dailyLimit
}

func (m *Manager) threshold() int {
	return (m.dailyLimit * m.thresholdPercent) / 100
}

// CheckQuotaAvailable checks if there's enough quota to proceed
// Returns true if quota is available, false otherwise
func (m *Manager) CheckQuotaAvailable(ctx context.Context, requiredQuota int) (bool, *models.QuotaInfo, error) {
	info, err := m.repo.GetTodaysQuota(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to get quota info: %w", err)
	}

	thresholdQuota := m.threshold()

	if info.QuotaUsed >= thresholdQuota {
		m.logger.Warn("quota threshold reached",
			zap.Int("quota_used", info.QuotaUsed),
			zap.Int("daily_limit", m.dailyLimit),
			zap.Int("threshold", thresholdQuota))
		return false, info, nil
	}

	if info.QuotaUsed+requiredQuota > thresholdQuota {
		m.logger.Warn("not enough quota for operation",
			zap.Int("required", requiredQuota),
			zap.Int("quota_used", info.QuotaUsed),
			zap.Int("threshold", thresholdQuota))
		return false, info, nil
	}

	return true, info, nil
}

// Allow returns ErrBudgetReached if spending cost units would cross the threshold.
func (m *Manager) Allow(ctx context.Context, cost int) error {
	ok, info, err := m.CheckQuotaAvailable(ctx, cost)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d/%d used", ErrBudgetReached, info.QuotaUsed, m.dailyLimit)
	}
	return nil
}

// Record records API quota usage
func (m *Manager) Record(ctx context.Context, quotaCost int, operationType string) error {
	if err := m.repo.IncrementQuota(ctx, quotaCost, operationType); err != nil {
		return fmt.Errorf("failed to record quota usage: %w", err)
	}

	m.logger.Debug("quota used",
		zap.Int("cost", quotaCost),
		zap.String("operation", operationType))

	return nil
}

// GetQuotaInfo returns current quota information
func (m *Manager) GetQuotaInfo(ctx context.Context) (*models.QuotaInfo, error) {
	return m.repo.GetTodaysQuota(ctx)
}

// GetQuotaHistory returns the persisted usage of the last days.
func (m *Manager) GetQuotaHistory(ctx context.Context, days int) ([]*models.APIQuotaUsage, error) {
	return m.repo.GetQuotaHistory(ctx, days)
}

// GetQuotaUsagePercentage returns the percentage of daily quota used
func (m *Manager) GetQuotaUsagePercentage(ctx context.Context) (float64, error) {
	info, err := m.repo.GetTodaysQuota(ctx)
	if err != nil {
		return 0, err
	}

	return float64(info.QuotaUsed) / float64(m.dailyLimit) * 100, nil
}

// IsQuotaExhausted checks if quota threshold has been reached
func (m *Manager) IsQuotaExhausted(ctx context.Context) (bool, error) {
	info, err := m.repo.GetTodaysQuota(ctx)
	if err != nil {
		return false, err
	}

	return info.QuotaUsed >= m.threshold(), nil
}

// GetRemainingQuota returns how much quota is remaining before threshold
func (m *Manager) GetRemainingQuota(ctx context.Context) (int, error) {
	info, err := m.repo.GetTodaysQuota(ctx)
	if err != nil {
		return 0, err
	}

	remaining := m.threshold() - info.QuotaUsed
	if remaining < 0 {
		return 0, nil
	}

	return remaining, nil
}
