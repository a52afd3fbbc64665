package models

import "time"

// Video represents a YouTube video with its latest known counts.
type Video struct {
	VideoID              string    `db:"video_id" json:"video_id"`
	ChannelID            string    `db:"channel_id" json:"channel_id"`
	PublishedAt          time.Time `db:"published_at" json:"published_at"`
	Title                string    `db:"title" json:"title"`
	Description          string    `db:"description" json:"description"`
	LocalizedTitle       string    `db:"localized_title" json:"localized_title"`
	LocalizedDescription string    `db:"localized_description" json:"localized_description"`
	ThumbnailDefault     string    `db:"thumbnail_default" json:"thumbnail_default"`
	ThumbnailMedium      string    `db:"thumbnail_medium" json:"thumbnail_medium"`
	ThumbnailHigh        string    `db:"thumbnail_high" json:"thumbnail_high"`
	Tags                 []string  `db:"tags" json:"tags"`
	CategoryID           string    `db:"category_id" json:"category_id"`
	LiveBroadcastContent string    `db:"live_broadcast_content" json:"live_broadcast_content"`
	DefaultLanguage      string    `db:"default_language" json:"default_language"`
	DefaultAudioLanguage string    `db:"default_audio_language" json:"default_audio_language"`
	Duration             string    `db:"duration" json:"duration"`
	Counts               VideoCounts
	InsertedAt           time.Time `db:"inserted_at" json:"inserted_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// NewVideo creates a Video with the required identity fields set.
func NewVideo(videoID, channelID string, publishedAt time.Time) *Video {
	now := time.Now()
	return &Video{
		VideoID:     videoID,
		ChannelID:   channelID,
		PublishedAt: publishedAt,
		Tags:        []string{},
		InsertedAt:  now,
		UpdatedAt:   now,
	}
}

// BinID is the UTC hour of publication; it never changes for a video.
func (v *Video) BinID() int {
	return BinForTime(v.PublishedAt)
}
