package repository

import (
	"context"
	"fmt"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ScheduleRepository defines operations on the per-video sampling schedule.
type ScheduleRepository interface {
	// InsertSchedule creates the schedule row for a video, ignoring duplicates.
	InsertSchedule(ctx context.Context, schedule *models.VideoSchedule) (bool, error)

	// ListDueForBin returns rows of bin with current_sample below horizon,
	// ordered by upload_datetime then video_id so offsets are stable.
	ListDueForBin(ctx context.Context, bin, horizon, limit, offset int) ([]*models.VideoSchedule, error)

	// GetCurrentSample returns the number of samples already recorded for a video.
	GetCurrentSample(ctx context.Context, videoID string) (int, error)

	// IncrementSample advances current_sample by one if it still equals expected and is below horizon.
	// It returns false when the row no longer matches.
	IncrementSample(ctx context.Context, videoID string, expected, horizon int) (bool, error)
}

// ValidateBin rejects bins outside 0..BinCount-1 with db.ErrCheckViolation.
func ValidateBin(bin int) error {
	if bin < 0 || bin >= models.BinCount {
		return fmt.Errorf("%w: bin_id %d out of range 0..%d", db.ErrCheckViolation, bin, models.BinCount-1)
	}
	return nil
}

type scheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepository{pool: pool}
}

func (r *scheduleRepository) InsertSchedule(ctx context.Context, schedule *models.VideoSchedule) (bool, error) {
	if err := ValidateBin(schedule.BinID); err != nil {
		return false, fmt.Errorf("insert schedule %s: %w", schedule.VideoID, err)
	}

	query := `
		INSERT INTO video_schedule (video_id, bin_id, upload_datetime, current_sample)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (video_id) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query,
		schedule.VideoID,
		schedule.BinID,
		schedule.UploadDatetime,
		schedule.CurrentSample,
	)
	if err != nil {
		return false, db.WrapError(err, "insert schedule")
	}

	return result.RowsAffected() == 1, nil
}

func (r *scheduleRepository) ListDueForBin(ctx context.Context, bin, horizon, limit, offset int) ([]*models.VideoSchedule, error) {
	query := `
		SELECT video_id, bin_id, upload_datetime, current_sample, created_at, updated_at
		FROM video_schedule
		WHERE bin_id = $1 AND current_sample < $2
		ORDER BY upload_datetime, video_id
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, bin, horizon, limit, offset)
	if err != nil {
		return nil, db.WrapError(err, "list schedule for bin")
	}
	defer rows.Close()

	var schedules []*models.VideoSchedule
	for rows.Next() {
		s := &models.VideoSchedule{}
		if err := rows.Scan(&s.VideoID, &s.BinID, &s.UploadDatetime, &s.CurrentSample, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}

	return schedules, nil
}

func (r *scheduleRepository) GetCurrentSample(ctx context.Context, videoID string) (int, error) {
	var current int
	err := r.pool.QueryRow(ctx, `SELECT current_sample FROM video_schedule WHERE video_id = $1`, videoID).Scan(&current)
	if err != nil {
		return 0, db.WrapError(err, "get current sample")
	}

	return current, nil
}

func (r *scheduleRepository) IncrementSample(ctx context.Context, videoID string, expected, horizon int) (bool, error) {
	query := `
		UPDATE video_schedule
		SET current_sample = current_sample + 1,
		    updated_at = NOW()
		WHERE video_id = $1 AND current_sample = $2 AND current_sample < $3
	`

	result, err := r.pool.Exec(ctx, query, videoID, expected, horizon)
	if err != nil {
		return false, db.WrapError(err, "increment sample")
	}

	return result.RowsAffected() == 1, nil
}
