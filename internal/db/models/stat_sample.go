package models

import "time"

// StatSample is one immutable point of a video's engagement time series.
type StatSample struct {
	VideoID    string    `db:"video_id" json:"video_id"`
	DayIndex   int       `db:"day_index" json:"day_index"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
	VideoCounts
	SourceTag string    `db:"source_tag" json:"source_tag"`
	SampleKey string    `db:"sample_key" json:"sample_key"`
	CreatedAt time.Time `db:"created_at" json:"-"`
}

// NewStatSample builds the sample for dayIndex. key is the dedup key of (videoID, dayIndex).
func NewStatSample(videoID string, dayIndex int, recordedAt time.Time, counts VideoCounts, sourceTag, key string) StatSample {
	return StatSample{
		VideoID:     videoID,
		DayIndex:    dayIndex,
		RecordedAt:  recordedAt.UTC(),
		VideoCounts: counts,
		SourceTag:   sourceTag,
		SampleKey:   key,
	}
}
