package repository

import (
	"context"
	"fmt"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChannelRepository defines operations for managing tracked channels.
type ChannelRepository interface {
	// UpsertChannel creates a new channel or refreshes an existing one.
	// is_active is only written on insert, so a deactivated channel stays inactive.
	UpsertChannel(ctx context.Context, channel *models.Channel) error

	// GetChannelByID retrieves a single channel by ID.
	GetChannelByID(ctx context.Context, channelID string) (*models.Channel, error)

	// ListActive retrieves active channels ordered by channel ID.
	ListActive(ctx context.Context, limit, offset int) ([]*models.Channel, error)

	// ExistingIDs returns the subset of channelIDs already stored.
	ExistingIDs(ctx context.Context, channelIDs []string) (map[string]bool, error)

	// MarkInactive deactivates a channel. There is no inverse operation.
	MarkInactive(ctx context.Context, channelID string) error
}

type channelRepository struct {
	pool *pgxpool.Pool
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(pool *pgxpool.Pool) ChannelRepository {
	return &channelRepository{pool: pool}
}

const channelColumns = `channel_id, title, custom_url, country, uploads_playlist_id,
	view_count, subscriber_count, video_count, is_active, last_checked_at, created_at, updated_at`

func (r *channelRepository) UpsertChannel(ctx context.Context, channel *models.Channel) error {
	query := `
		INSERT INTO channels (channel_id, title, custom_url, country, uploads_playlist_id,
		                      view_count, subscriber_count, video_count, is_active, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (channel_id) DO UPDATE
		SET title = EXCLUDED.title,
		    custom_url = EXCLUDED.custom_url,
		    country = EXCLUDED.country,
		    uploads_playlist_id = EXCLUDED.uploads_playlist_id,
		    view_count = EXCLUDED.view_count,
		    subscriber_count = EXCLUDED.subscriber_count,
		    video_count = EXCLUDED.video_count,
		    last_checked_at = EXCLUDED.last_checked_at,
		    updated_at = NOW()
		RETURNING is_active, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		channel.ChannelID,
		channel.Title,
		channel.CustomURL,
		channel.Country,
		channel.UploadsPlaylistID,
		channel.ViewCount,
		channel.SubscriberCount,
		channel.VideoCount,
		channel.IsActive,
		channel.LastCheckedAt,
	).Scan(
		&channel.IsActive,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)

	if err != nil {
		return db.WrapError(err, "upsert channel")
	}

	return nil
}

func (r *channelRepository) GetChannelByID(ctx context.Context, channelID string) (*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE channel_id = $1`

	channel := &models.Channel{}
	if err := scanChannel(r.pool.QueryRow(ctx, query, channelID), channel); err != nil {
		return nil, db.WrapError(err, "get channel by id")
	}

	return channel, nil
}

func (r *channelRepository) ListActive(ctx context.Context, limit, offset int) ([]*models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE is_active
		ORDER BY channel_id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, db.WrapError(err, "list active channels")
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *channelRepository) ExistingIDs(ctx context.Context, channelIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(channelIDs))
	if len(channelIDs) == 0 {
		return existing, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT channel_id FROM channels WHERE channel_id = ANY($1)`, channelIDs)
	if err != nil {
		return nil, db.WrapError(err, "existing channel ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan channel id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel ids: %w", err)
	}

	return existing, nil
}

func (r *channelRepository) MarkInactive(ctx context.Context, channelID string) error {
	query := `UPDATE channels SET is_active = FALSE, updated_at = NOW() WHERE channel_id = $1`

	result, err := r.pool.Exec(ctx, query, channelID)
	if err != nil {
		return db.WrapError(err, "mark channel inactive")
	}

	if result.RowsAffected() == 0 {
		return db.WrapError(db.ErrNotFound, "mark channel inactive")
	}

	return nil
}

func scanChannel(row pgx.Row, channel *models.Channel) error {
	return row.Scan(
		&channel.ChannelID,
		&channel.Title,
		&channel.CustomURL,
		&channel.Country,
		&channel.UploadsPlaylistID,
		&channel.ViewCount,
		&channel.SubscriberCount,
		&channel.VideoCount,
		&channel.IsActive,
		&channel.LastCheckedAt,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)
}

func scanChannels(rows pgx.Rows) ([]*models.Channel, error) {
	var channels []*models.Channel

	for rows.Next() {
		channel := &models.Channel{}
		if err := scanChannel(rows, channel); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, channel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return channels, nil
}
