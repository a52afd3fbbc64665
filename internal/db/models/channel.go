package models

import "time"

// Channel represents a YouTube channel whose uploads are collected.
type Channel struct {
	ChannelID         string     `db:"channel_id" json:"channel_id"`
	Title             string     `db:"title" json:"title"`
	CustomURL         string     `db:"custom_url" json:"custom_url"`
	Country           string     `db:"country" json:"country"`
	UploadsPlaylistID string     `db:"uploads_playlist_id" json:"uploads_playlist_id"`
	ViewCount         int64      `db:"view_count" json:"view_count"`
	SubscriberCount   int64      `db:"subscriber_count" json:"subscriber_count"`
	VideoCount        int64      `db:"video_count" json:"video_count"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	LastCheckedAt     *time.Time `db:"last_checked_at" json:"last_checked_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// NewChannel creates an active Channel checked at checkedAt.
func NewChannel(channelID, title string, checkedAt time.Time) *Channel {
	now := time.Now()
	return &Channel{
		ChannelID:     channelID,
		Title:         title,
		IsActive:      true,
		LastCheckedAt: &checkedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// UploadsCollection returns the id crawled for new uploads, falling back to the channel id.
func (c *Channel) UploadsCollection() string {
	if c.UploadsPlaylistID != "" {
		return c.UploadsPlaylistID
	}
	return c.ChannelID
}
