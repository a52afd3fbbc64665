package youtube

import (
	"context"
	"sync"

	yt "google.golang.org/api/youtube/v3"
)

// fakeService records calls and delegates to optional hooks.
type fakeService struct {
	mu    sync.Mutex
	calls []string

	listChannels  func(ids, parts []string) ([]*yt.Channel, error)
	byHandle      func(handle string) ([]*yt.Channel, error)
	playlistItems func(playlistID, pageToken string, maxResults int64) (*yt.PlaylistItemListResponse, error)
	listVideos    func(ids, parts []string) ([]*yt.Video, error)
}

func (f *fakeService) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeService) ListChannels(_ context.Context, ids, parts []string) ([]*yt.Channel, error) {
	f.record("channels")
	if f.listChannels == nil {
		return nil, nil
	}
	return f.listChannels(ids, parts)
}

func (f *fakeService) ChannelsByHandle(_ context.Context, handle string, _ []string) ([]*yt.Channel, error) {
	f.record("handle")
	if f.byHandle == nil {
		return nil, nil
	}
	return f.byHandle(handle)
}

func (f *fakeService) ListPlaylistItems(_ context.Context, playlistID, pageToken string, maxResults int64) (*yt.PlaylistItemListResponse, error) {
	f.record("playlistItems")
	if f.playlistItems == nil {
		return &yt.PlaylistItemListResponse{}, nil
	}
	return f.playlistItems(playlistID, pageToken, maxResults)
}

func (f *fakeService) ListVideos(_ context.Context, ids, parts []string) ([]*yt.Video, error) {
	f.record("videos")
	if f.listVideos == nil {
		return nil, nil
	}
	return f.listVideos(ids, parts)
}

// funcCall adapts a function into a Call.
type funcCall[T any] struct {
	op string
	fn func(ctx context.Context, svc Service) (Result[T], error)
}

func (c funcCall[T]) Operation() string { return c.op }

func (c funcCall[T]) Perform(ctx context.Context, svc Service) (Result[T], error) {
	return c.fn(ctx, svc)
}
