package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// QuotaRepository defines operations for managing API quota usage
type QuotaRepository interface {
	// GetTodaysQuota retrieves today's quota usage
	GetTodaysQuota(ctx context.Context) (*models.QuotaInfo, error)

	// IncrementQuota increments today's quota usage
	IncrementQuota(ctx context.Context, quotaCost int, operationType string) error

	// GetQuotaHistory retrieves quota usage history
	GetQuotaHistory(ctx context.Context, days int) ([]*models.APIQuotaUsage, error)
}

type quotaRepository struct {
	pool       *pgxpool.Pool
	dailyLimit int
}

// NewQuotaRepository creates a new QuotaRepository. dailyLimit is stored on each day's row.
func NewQuotaRepository(pool *pgxpool.Pool, dailyLimit int) QuotaRepository {
	return &quotaRepository{pool: pool, dailyLimit: dailyLimit}
}

func (r *quotaRepository) GetTodaysQuota(ctx context.Context) (*models.QuotaInfo, error) {
	query := `SELECT quota_used, quota_limit, quota_remaining, operations_count FROM get_todays_quota_usage($1)`

	info := &models.QuotaInfo{}
	err := r.pool.QueryRow(ctx, query, r.dailyLimit).Scan(
		&info.QuotaUsed,
		&info.QuotaLimit,
		&info.QuotaRemaining,
		&info.OperationsCount,
	)

	if err != nil {
		return nil, db.WrapError(err, "get todays quota")
	}

	return info, nil
}

func (r *quotaRepository) IncrementQuota(ctx context.Context, quotaCost int, operationType string) error {
	if operationType == "" {
		operationType = "other"
	}

	query := `SELECT increment_quota_usage($1, $2, $3)`
	_, err := r.pool.Exec(ctx, query, quotaCost, operationType, r.dailyLimit)
	if err != nil {
		return db.WrapError(err, "increment quota")
	}

	return nil
}

func (r *quotaRepository) GetQuotaHistory(ctx context.Context, days int) ([]*models.APIQuotaUsage, error) {
	if days <= 0 {
		days = 7
	}

	query := `
		SELECT id, date, quota_used, quota_limit, operations_count, operations, created_at, updated_at
		FROM api_quota_usage
		WHERE date >= $1
		ORDER BY date DESC
	`

	since := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, db.WrapError(err, "get quota history")
	}
	defer rows.Close()

	var history []*models.APIQuotaUsage
	for rows.Next() {
		usage := &models.APIQuotaUsage{}
		err := rows.Scan(
			&usage.ID,
			&usage.Date,
			&usage.QuotaUsed,
			&usage.QuotaLimit,
			&usage.OperationsCount,
			&usage.Operations,
			&usage.CreatedAt,
			&usage.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan quota history: %w", err)
		}
		history = append(history, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quota history: %w", err)
	}

	return history, nil
}
