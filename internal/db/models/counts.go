package models

// VideoCounts are the engagement counters reported for a video.
type VideoCounts struct {
	ViewCount     int64 `db:"view_count" json:"view_count"`
	LikeCount     int64 `db:"like_count" json:"like_count"`
	FavoriteCount int64 `db:"favorite_count" json:"favorite_count"`
	CommentCount  int64 `db:"comment_count" json:"comment_count"`
}
