package repository

import (
	"context"
	"fmt"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatSampleRepository defines operations on the append-only video_stats table.
// Rows cannot be updated or deleted; the table trigger rejects it.
type StatSampleRepository interface {
	// Append inserts samples, skipping ones whose (video_id, day_index) already exists.
	// It returns the number of new rows.
	Append(ctx context.Context, samples ...models.StatSample) (int, error)

	// ListByVideo returns the samples of a video ordered by day_index.
	ListByVideo(ctx context.Context, videoID string) ([]models.StatSample, error)
}

type statSampleRepository struct {
	pool *pgxpool.Pool
}

// NewStatSampleRepository creates a new StatSampleRepository.
func NewStatSampleRepository(pool *pgxpool.Pool) StatSampleRepository {
	return &statSampleRepository{pool: pool}
}

func (r *statSampleRepository) Append(ctx context.Context, samples ...models.StatSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO video_stats (video_id, day_index, recorded_at, view_count, like_count,
		                         favorite_count, comment_count, source_tag, sample_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (video_id, day_index) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, s := range samples {
		batch.Queue(query,
			s.VideoID,
			s.DayIndex,
			s.RecordedAt,
			s.ViewCount,
			s.LikeCount,
			s.FavoriteCount,
			s.CommentCount,
			s.SourceTag,
			s.SampleKey,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range samples {
		tag, err := results.Exec()
		if err != nil {
			return inserted, db.WrapError(err, "append stat sample")
		}
		inserted += int(tag.RowsAffected())
	}

	return inserted, nil
}

func (r *statSampleRepository) ListByVideo(ctx context.Context, videoID string) ([]models.StatSample, error) {
	query := `
		SELECT video_id, day_index, recorded_at, view_count, like_count,
		       favorite_count, comment_count, source_tag, sample_key, created_at
		FROM video_stats
		WHERE video_id = $1
		ORDER BY day_index
	`

	rows, err := r.pool.Query(ctx, query, videoID)
	if err != nil {
		return nil, db.WrapError(err, "list stat samples")
	}
	defer rows.Close()

	var samples []models.StatSample
	for rows.Next() {
		var s models.StatSample
		err := rows.Scan(
			&s.VideoID,
			&s.DayIndex,
			&s.RecordedAt,
			&s.ViewCount,
			&s.LikeCount,
			&s.FavoriteCount,
			&s.CommentCount,
			&s.SourceTag,
			&s.SampleKey,
			&s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stat sample: %w", err)
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stat samples: %w", err)
	}

	return samples, nil
}
