// Package youtubetest provides an in-memory youtube.Service for tests.
package youtubetest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	yt "google.golang.org/api/youtube/v3"

	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube"
)

// Request is one call received by Service.
type Request struct {
	Method     string
	IDs        []string
	Parts      []string
	Playlist   string
	PageToken  string
	MaxResults int64
	Handle     string
}

// Service serves canned channels, playlists and videos.
type Service struct {
	mu       sync.Mutex
	requests []Request

	Channels  map[string]*yt.Channel
	Handles   map[string]*yt.Channel
	Playlists map[string][]*yt.PlaylistItemListResponse // pages, in order
	Videos    map[string]*yt.Video

	// Err, if set, is consulted before serving each request.
	Err func(r Request) error
}

// New creates an empty Service.
func New() *Service {
	return &Service{
		Channels:  map[string]*yt.Channel{},
		Handles:   map[string]*yt.Channel{},
		Playlists: map[string][]*yt.PlaylistItemListResponse{},
		Videos:    map[string]*yt.Video{},
	}
}

// Requests returns the calls served so far.
func (s *Service) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many calls of method were received.
func (s *Service) Count(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

func (s *Service) serve(r Request) error {
	s.mu.Lock()
	s.requests = append(s.requests, r)
	s.mu.Unlock()
	if s.Err != nil {
		return s.Err(r)
	}
	return nil
}

func (s *Service) ListChannels(_ context.Context, ids, parts []string) ([]*yt.Channel, error) {
	if err := s.serve(Request{Method: "channels", IDs: ids, Parts: parts}); err != nil {
		return nil, err
	}
	var items []*yt.Channel
	for _, id := range ids {
		if c, ok := s.Channels[id]; ok {
			items = append(items, c)
		}
	}
	return items, nil
}

func (s *Service) ChannelsByHandle(_ context.Context, handle string, parts []string) ([]*yt.Channel, error) {
	if err := s.serve(Request{Method: "handle", Handle: handle, Parts: parts}); err != nil {
		return nil, err
	}
	if c, ok := s.Handles[handle]; ok {
		return []*yt.Channel{c}, nil
	}
	return nil, nil
}

// ListPlaylistItems treats the page token as the index of the page to serve.
func (s *Service) ListPlaylistItems(_ context.Context, playlistID, pageToken string, maxResults int64) (*yt.PlaylistItemListResponse, error) {
	if err := s.serve(Request{Method: "playlistItems", Playlist: playlistID, PageToken: pageToken, MaxResults: maxResults}); err != nil {
		return nil, err
	}
	pages, ok := s.Playlists[playlistID]
	if !ok {
		return nil, errors.New("playlistNotFound")
	}
	if len(pages) == 0 {
		return &yt.PlaylistItemListResponse{}, nil
	}
	idx := 0
	for i := range pages {
		if PageToken(i) == pageToken {
			idx = i
		}
	}
	return pages[idx], nil
}

func (s *Service) ListVideos(_ context.Context, ids, parts []string) ([]*yt.Video, error) {
	if err := s.serve(Request{Method: "videos", IDs: ids, Parts: parts}); err != nil {
		return nil, err
	}
	var items []*yt.Video
	for _, id := range ids {
		if v, ok := s.Videos[id]; ok {
			items = append(items, v)
		}
	}
	return items, nil
}

// PageToken is the token under which page i of a playlist is served.
func PageToken(i int) string {
	if i == 0 {
		return ""
	}
	return "page-" + strconv.Itoa(i)
}

// Upload is a playlist entry used to build pages.
type Upload struct {
	VideoID     string
	PublishedAt time.Time
}

// Pages splits uploads into playlist pages of pageSize, linked by next-page tokens.
func Pages(pageSize int, uploads ...Upload) []*yt.PlaylistItemListResponse {
	var pages []*yt.PlaylistItemListResponse
	for i := 0; i < len(uploads); i += pageSize {
		end := min(i+pageSize, len(uploads))
		page := &yt.PlaylistItemListResponse{}
		for _, u := range uploads[i:end] {
			page.Items = append(page.Items, PlaylistItem(u.VideoID, u.PublishedAt))
		}
		pages = append(pages, page)
	}
	for i := 0; i+1 < len(pages); i++ {
		pages[i].NextPageToken = PageToken(i + 1)
	}
	return pages
}

// PlaylistItem builds an item whose publish time is set in contentDetails.
func PlaylistItem(videoID string, publishedAt time.Time) *yt.PlaylistItem {
	item := &yt.PlaylistItem{
		ContentDetails: &yt.PlaylistItemContentDetails{VideoId: videoID},
	}
	if !publishedAt.IsZero() {
		item.ContentDetails.VideoPublishedAt = publishedAt.UTC().Format(time.RFC3339)
	}
	return item
}

// Channel builds a channel with an uploads playlist.
func Channel(id, uploads string) *yt.Channel {
	return &yt.Channel{
		Id:      id,
		Snippet: &yt.ChannelSnippet{Title: "channel " + id},
		ContentDetails: &yt.ChannelContentDetails{
			RelatedPlaylists: &yt.ChannelContentDetailsRelatedPlaylists{Uploads: uploads},
		},
		Statistics: &yt.ChannelStatistics{SubscriberCount: 10},
	}
}

// Video builds a video with statistics.
func Video(id, channelID string, publishedAt time.Time, views uint64) *yt.Video {
	return &yt.Video{
		Id: id,
		Snippet: &yt.VideoSnippet{
			ChannelId:   channelID,
			Title:       "video " + id,
			PublishedAt: publishedAt.UTC().Format(time.RFC3339),
		},
		Statistics: &yt.VideoStatistics{ViewCount: views},
	}
}

// NewPool wraps services in a pool that does not sleep between attempts.
func NewPool(t *testing.T, services ...youtube.Service) *youtube.Pool {
	t.Helper()
	creds := make([]youtube.Credential, len(services))
	for i := range creds {
		creds[i] = youtube.Credential{Index: i, Key: "test-key"}
	}
	pool, err := youtube.NewPool(creds, services, youtube.WithClock(func(context.Context, time.Duration) error { return nil }))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return pool
}
