package repository

import (
	"context"
	"time"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BinTickRepository records the last hour each bin was sampled.
type BinTickRepository interface {
	// TryAcquire claims (bin, hourStart). It returns false if that hour or a later one
	// was already claimed for the bin.
	TryAcquire(ctx context.Context, bin int, hourStart, at time.Time) (bool, error)
	// Release undoes the claim of (bin, hourStart) if it is still the latest one,
	// restoring the previously claimed hour. It reports whether a claim was undone.
	Release(ctx context.Context, bin int, hourStart time.Time) (bool, error)
}

type binTickRepository struct {
	pool *pgxpool.Pool
}

// NewBinTickRepository creates a new BinTickRepository.
func NewBinTickRepository(pool *pgxpool.Pool) BinTickRepository {
	return &binTickRepository{pool: pool}
}

func (r *binTickRepository) TryAcquire(ctx context.Context, bin int, hourStart, at time.Time) (bool, error) {
	query := `
		INSERT INTO bin_ticks (bin_id, last_ticked_at, acquired_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (bin_id) DO UPDATE
		SET previous_ticked_at = bin_ticks.last_ticked_at,
		    last_ticked_at = EXCLUDED.last_ticked_at,
		    acquired_at = EXCLUDED.acquired_at
		WHERE bin_ticks.last_ticked_at < EXCLUDED.last_ticked_at
	`

	result, err := r.pool.Exec(ctx, query, bin, hourStart.UTC(), at.UTC())
	if err != nil {
		return false, db.WrapError(err, "acquire bin tick")
	}

	return result.RowsAffected() == 1, nil
}

func (r *binTickRepository) Release(ctx context.Context, bin int, hourStart time.Time) (bool, error) {
	// A bin never claimed before falls back to -infinity so any hour can claim it again.
	query := `
		UPDATE bin_ticks
		SET last_ticked_at = COALESCE(previous_ticked_at, '-infinity'::timestamptz),
		    previous_ticked_at = NULL
		WHERE bin_id = $1 AND last_ticked_at = $2
	`

	result, err := r.pool.Exec(ctx, query, bin, hourStart.UTC())
	if err != nil {
		return false, db.WrapError(err, "release bin tick")
	}

	return result.RowsAffected() == 1, nil
}
