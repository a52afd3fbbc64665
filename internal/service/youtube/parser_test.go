package youtube

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yt "google.golang.org/api/youtube/v3"
)

func TestParseCounts(t *testing.T) {
	tests := []struct {
		name    string
		video   *yt.Video
		want    int64
		wantErr bool
	}{
		{name: "all counts", video: &yt.Video{Id: "a", Statistics: &yt.VideoStatistics{ViewCount: 10, LikeCount: 3, CommentCount: 1, FavoriteCount: 0}}, want: 10},
		{name: "missing statistics", video: &yt.Video{Id: "a"}, want: 0},
		{name: "missing id", video: &yt.Video{Statistics: &yt.VideoStatistics{ViewCount: 1}}, wantErr: true},
		{name: "nil", video: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counts, err := ParseCounts(tt.video)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, counts.ViewCount)
		})
	}
}

func TestMapVideo(t *testing.T) {
	inserted := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	v := &yt.Video{
		Id: "vid00000001",
		Snippet: &yt.VideoSnippet{
			ChannelId:   "UCabc",
			PublishedAt: "2024-05-01T05:30:00Z",
			Title:       "Title",
			Tags:        []string{"a", "b"},
			CategoryId:  "22",
			Localized:   &yt.VideoLocalization{Title: "Titre"},
			Thumbnails: &yt.ThumbnailDetails{
				Default: &yt.Thumbnail{Url: "d.jpg"},
				High:    &yt.Thumbnail{Url: "h.jpg"},
			},
		},
		ContentDetails: &yt.VideoContentDetails{Duration: "PT4M13S"},
		Statistics:     &yt.VideoStatistics{ViewCount: 100, LikeCount: 7},
	}

	video, err := MapVideo(v, inserted)
	require.NoError(t, err)
	assert.Equal(t, "UCabc", video.ChannelID)
	assert.Equal(t, time.Date(2024, 5, 1, 5, 30, 0, 0, time.UTC), video.PublishedAt)
	assert.Equal(t, 5, video.BinID())
	assert.Equal(t, "Titre", video.LocalizedTitle)
	assert.Equal(t, "d.jpg", video.ThumbnailDefault)
	assert.Equal(t, "", video.ThumbnailMedium)
	assert.Equal(t, "h.jpg", video.ThumbnailHigh)
	assert.Equal(t, []string{"a", "b"}, video.Tags)
	assert.Equal(t, "PT4M13S", video.Duration)
	assert.Equal(t, int64(100), video.Counts.ViewCount)
	assert.Equal(t, inserted, video.InsertedAt)

	_, err = MapVideo(&yt.Video{Id: "x"}, inserted)
	assert.Error(t, err)

	_, err = MapVideo(&yt.Video{Id: "x", Snippet: &yt.VideoSnippet{PublishedAt: "yesterday"}}, inserted)
	assert.Error(t, err)
}

func TestMapChannel(t *testing.T) {
	checked := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	c := &yt.Channel{
		Id:      "UCabc",
		Snippet: &yt.ChannelSnippet{Title: "ABC", CustomUrl: "@abc", Country: "US"},
		ContentDetails: &yt.ChannelContentDetails{
			RelatedPlaylists: &yt.ChannelContentDetailsRelatedPlaylists{Uploads: "UUabc"},
		},
		Statistics: &yt.ChannelStatistics{ViewCount: 1000, SubscriberCount: 50, VideoCount: 3},
	}

	channel, err := MapChannel(c, checked)
	require.NoError(t, err)
	assert.True(t, channel.IsActive)
	assert.Equal(t, "ABC", channel.Title)
	assert.Equal(t, "@abc", channel.CustomURL)
	assert.Equal(t, "US", channel.Country)
	assert.Equal(t, "UUabc", channel.UploadsPlaylistID)
	assert.Equal(t, int64(50), channel.SubscriberCount)
	require.NotNil(t, channel.LastCheckedAt)
	assert.Equal(t, checked, *channel.LastCheckedAt)

	_, err = MapChannel(&yt.Channel{}, checked)
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestParsePublishedAt(t *testing.T) {
	want := time.Date(2024, 5, 1, 5, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		item   *yt.PlaylistItem
		wantOK bool
	}{
		{
			name:   "content details preferred",
			item:   &yt.PlaylistItem{ContentDetails: &yt.PlaylistItemContentDetails{VideoPublishedAt: "2024-05-01T05:30:00Z"}, Snippet: &yt.PlaylistItemSnippet{PublishedAt: "2020-01-01T00:00:00Z"}},
			wantOK: true,
		},
		{
			name:   "snippet fallback",
			item:   &yt.PlaylistItem{Snippet: &yt.PlaylistItemSnippet{PublishedAt: "2024-05-01T05:30:00Z"}},
			wantOK: true,
		},
		{
			name:   "unparseable content details falls back",
			item:   &yt.PlaylistItem{ContentDetails: &yt.PlaylistItemContentDetails{VideoPublishedAt: "bad"}, Snippet: &yt.PlaylistItemSnippet{PublishedAt: "2024-05-01T07:30:00+02:00"}},
			wantOK: true,
		},
		{name: "missing", item: &yt.PlaylistItem{}, wantOK: false},
		{name: "nil", item: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePublishedAt(tt.item)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestPlaylistItemVideoID(t *testing.T) {
	assert.Equal(t, "a", PlaylistItemVideoID(&yt.PlaylistItem{ContentDetails: &yt.PlaylistItemContentDetails{VideoId: "a"}}))
	assert.Equal(t, "b", PlaylistItemVideoID(&yt.PlaylistItem{Snippet: &yt.PlaylistItemSnippet{ResourceId: &yt.ResourceId{VideoId: "b"}}}))
	assert.Equal(t, "", PlaylistItemVideoID(&yt.PlaylistItem{}))
}
