package youtube

import (
	"errors"
	"fmt"
	"time"

	yt "google.golang.org/api/youtube/v3"

	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
)

// ErrMissingID is returned when a response item carries no id.
var ErrMissingID = errors.New("item has no id")

// ParseCounts extracts the engagement counters of a video. Missing statistics count as zero.
func ParseCounts(v *yt.Video) (models.VideoCounts, error) {
	if v == nil || v.Id == "" {
		return models.VideoCounts{}, ErrMissingID
	}

	var counts models.VideoCounts
	if s := v.Statistics; s != nil {
		counts.ViewCount = toInt64(s.ViewCount)
		counts.LikeCount = toInt64(s.LikeCount)
		counts.FavoriteCount = toInt64(s.FavoriteCount)
		counts.CommentCount = toInt64(s.CommentCount)
	}

	return counts, nil
}

// MapVideo maps a videos.list item into a Video row.
func MapVideo(v *yt.Video, insertedAt time.Time) (*models.Video, error) {
	if v == nil || v.Id == "" {
		return nil, ErrMissingID
	}
	if v.Snippet == nil {
		return nil, fmt.Errorf("video %s: missing snippet", v.Id)
	}

	publishedAt, err := parseTime(v.Snippet.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("video %s: published at: %w", v.Id, err)
	}

	video := models.NewVideo(v.Id, v.Snippet.ChannelId, publishedAt)
	video.InsertedAt = insertedAt.UTC()
	video.Title = v.Snippet.Title
	video.Description = v.Snippet.Description
	video.CategoryID = v.Snippet.CategoryId
	video.LiveBroadcastContent = v.Snippet.LiveBroadcastContent
	video.DefaultLanguage = v.Snippet.DefaultLanguage
	video.DefaultAudioLanguage = v.Snippet.DefaultAudioLanguage
	if v.Snippet.Tags != nil {
		video.Tags = v.Snippet.Tags
	}
	if l := v.Snippet.Localized; l != nil {
		video.LocalizedTitle = l.Title
		video.LocalizedDescription = l.Description
	}
	if th := v.Snippet.Thumbnails; th != nil {
		video.ThumbnailDefault = thumbnailURL(th.Default)
		video.ThumbnailMedium = thumbnailURL(th.Medium)
		video.ThumbnailHigh = thumbnailURL(th.High)
	}
	if v.ContentDetails != nil {
		video.Duration = v.ContentDetails.Duration
	}

	counts, err := ParseCounts(v)
	if err != nil {
		return nil, err
	}
	video.Counts = counts

	return video, nil
}

// MapChannel maps a channels.list item into an active Channel row.
func MapChannel(c *yt.Channel, checkedAt time.Time) (*models.Channel, error) {
	if c == nil || c.Id == "" {
		return nil, ErrMissingID
	}

	channel := models.NewChannel(c.Id, "", checkedAt.UTC())
	if s := c.Snippet; s != nil {
		channel.Title = s.Title
		channel.CustomURL = s.CustomUrl
		channel.Country = s.Country
	}
	if d := c.ContentDetails; d != nil && d.RelatedPlaylists != nil {
		channel.UploadsPlaylistID = d.RelatedPlaylists.Uploads
	}
	if s := c.Statistics; s != nil {
		channel.ViewCount = toInt64(s.ViewCount)
		channel.SubscriberCount = toInt64(s.SubscriberCount)
		channel.VideoCount = toInt64(s.VideoCount)
	}

	return channel, nil
}

// ParsePublishedAt returns the publish time of a playlist item, preferring
// contentDetails.videoPublishedAt over snippet.publishedAt.
func ParsePublishedAt(item *yt.PlaylistItem) (time.Time, bool) {
	if item == nil {
		return time.Time{}, false
	}

	candidates := make([]string, 0, 2)
	if item.ContentDetails != nil {
		candidates = append(candidates, item.ContentDetails.VideoPublishedAt)
	}
	if item.Snippet != nil {
		candidates = append(candidates, item.Snippet.PublishedAt)
	}

	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		if t, err := parseTime(raw); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// PlaylistItemVideoID returns the video id a playlist item points at.
func PlaylistItemVideoID(item *yt.PlaylistItem) string {
	if item == nil {
		return ""
	}
	if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
		return item.ContentDetails.VideoId
	}
	if item.Snippet != nil && item.Snippet.ResourceId != nil {
		return item.Snippet.ResourceId.VideoId
	}
	return ""
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func thumbnailURL(t *yt.Thumbnail) string {
	if t == nil {
		return ""
	}
	return t.Url
}

func toInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	return int64(v)
}
