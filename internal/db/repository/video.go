package repository

import (
	"context"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// VideoRepository defines operations for the current-state video records.
type VideoRepository interface {
	// InsertVideo inserts a video, ignoring duplicates. It reports whether a row was created.
	InsertVideo(ctx context.Context, video *models.Video) (bool, error)

	// GetVideoByID retrieves a single video by ID.
	GetVideoByID(ctx context.Context, videoID string) (*models.Video, error)

	// UpdateCounts overwrites the latest known counts of a video.
	UpdateCounts(ctx context.Context, videoID string, counts models.VideoCounts) error
}

type videoRepository struct {
	pool *pgxpool.Pool
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(pool *pgxpool.Pool) VideoRepository {
	return &videoRepository{pool: pool}
}

func (r *videoRepository) InsertVideo(ctx context.Context, video *models.Video) (bool, error) {
	query := `
		INSERT INTO videos (video_id, channel_id, published_at, title, description,
		                    localized_title, localized_description,
		                    thumbnail_default, thumbnail_medium, thumbnail_high,
		                    tags, category_id, live_broadcast_content,
		                    default_language, default_audio_language, duration,
		                    view_count, like_count, favorite_count, comment_count, inserted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (video_id) DO NOTHING
	`

	tags := video.Tags
	if tags == nil {
		tags = []string{}
	}

	result, err := r.pool.Exec(ctx, query,
		video.VideoID,
		video.ChannelID,
		video.PublishedAt,
		video.Title,
		video.Description,
		video.LocalizedTitle,
		video.LocalizedDescription,
		video.ThumbnailDefault,
		video.ThumbnailMedium,
		video.ThumbnailHigh,
		tags,
		video.CategoryID,
		video.LiveBroadcastContent,
		video.DefaultLanguage,
		video.DefaultAudioLanguage,
		video.Duration,
		video.Counts.ViewCount,
		video.Counts.LikeCount,
		video.Counts.FavoriteCount,
		video.Counts.CommentCount,
		video.InsertedAt,
	)
	if err != nil {
		return false, db.WrapError(err, "insert video")
	}

	return result.RowsAffected() == 1, nil
}

func (r *videoRepository) GetVideoByID(ctx context.Context, videoID string) (*models.Video, error) {
	query := `
		SELECT video_id, channel_id, published_at, title, description,
		       localized_title, localized_description,
		       thumbnail_default, thumbnail_medium, thumbnail_high,
		       tags, category_id, live_broadcast_content,
		       default_language, default_audio_language, duration,
		       view_count, like_count, favorite_count, comment_count, inserted_at, updated_at
		FROM videos
		WHERE video_id = $1
	`

	video := &models.Video{}
	err := r.pool.QueryRow(ctx, query, videoID).Scan(
		&video.VideoID,
		&video.ChannelID,
		&video.PublishedAt,
		&video.Title,
		&video.Description,
		&video.LocalizedTitle,
		&video.LocalizedDescription,
		&video.ThumbnailDefault,
		&video.ThumbnailMedium,
		&video.ThumbnailHigh,
		&video.Tags,
		&video.CategoryID,
		&video.LiveBroadcastContent,
		&video.DefaultLanguage,
		&video.DefaultAudioLanguage,
		&video.Duration,
		&video.Counts.ViewCount,
		&video.Counts.LikeCount,
		&video.Counts.FavoriteCount,
		&video.Counts.CommentCount,
		&video.InsertedAt,
		&video.UpdatedAt,
	)
	if err != nil {
		return nil, db.WrapError(err, "get video by id")
	}

	return video, nil
}

func (r *videoRepository) UpdateCounts(ctx context.Context, videoID string, counts models.VideoCounts) error {
	query := `
		UPDATE videos
		SET view_count = $2,
		    like_count = $3,
		    favorite_count = $4,
		    comment_count = $5,
		    updated_at = NOW()
		WHERE video_id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		videoID,
		counts.ViewCount,
		counts.LikeCount,
		counts.FavoriteCount,
		counts.CommentCount,
	)
	if err != nil {
		return db.WrapError(err, "update video counts")
	}

	if result.RowsAffected() == 0 {
		return db.WrapError(db.ErrNotFound, "update video counts")
	}

	return nil
}
