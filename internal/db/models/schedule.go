package models

import "time"

// DefaultSampleHorizon is the number of samples collected per video before it retires.
const DefaultSampleHorizon = 31

// BinCount is the number of hour-of-day bins.
const BinCount = 24

// VideoSchedule tracks how many samples have been recorded for a video.
type VideoSchedule struct {
	VideoID        string    `db:"video_id" json:"video_id"`
	BinID          int       `db:"bin_id" json:"bin_id"`
	UploadDatetime time.Time `db:"upload_datetime" json:"upload_datetime"`
	CurrentSample  int       `db:"current_sample" json:"current_sample"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// NewVideoSchedule creates a schedule row at sample zero, binned by the upload hour.
func NewVideoSchedule(videoID string, uploadDatetime time.Time) *VideoSchedule {
	now := time.Now()
	return &VideoSchedule{
		VideoID:        videoID,
		BinID:          BinForTime(uploadDatetime),
		UploadDatetime: uploadDatetime,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// BinForTime returns the UTC hour of t.
func BinForTime(t time.Time) int {
	return t.UTC().Hour()
}

// HourStart truncates t to the start of its UTC hour.
func HourStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
