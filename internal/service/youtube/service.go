// Package youtube wraps the YouTube Data API behind a credential pool that
// rotates API keys on failure and accounts for quota per call.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// Service is the upstream surface used through one credential.
type Service interface {
	ListChannels(ctx context.Context, ids []string, parts []string) ([]*yt.Channel, error)
	ChannelsByHandle(ctx context.Context, handle string, parts []string) ([]*yt.Channel, error)
	ListPlaylistItems(ctx context.Context, playlistID, pageToken string, maxResults int64) (*yt.PlaylistItemListResponse, error)
	ListVideos(ctx context.Context, ids []string, parts []string) ([]*yt.Video, error)
}

// APIService implements Service with the official client.
type APIService struct {
	svc *yt.Service
}

// NewAPIService creates a Service authenticated with apiKey.
// If httpClient is nil the default client is used.
func NewAPIService(ctx context.Context, apiKey string, httpClient *http.Client) (*APIService, error) {
	if apiKey == "" {
		return nil, errors.New("YouTube API key is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		// WithHTTPClient overrides WithAPIKey, so the key rides on the transport instead.
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		client := *httpClient
		client.Transport = &transport.APIKey{Key: apiKey, Transport: base}
		opts = []option.ClientOption{option.WithHTTPClient(&client)}
	}

	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	return &APIService{svc: svc}, nil
}

func (s *APIService) ListChannels(ctx context.Context, ids []string, parts []string) ([]*yt.Channel, error) {
	resp, err := s.svc.Channels.List(parts).Id(ids...).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list: %w", err)
	}
	return resp.Items, nil
}

func (s *APIService) ChannelsByHandle(ctx context.Context, handle string, parts []string) ([]*yt.Channel, error) {
	resp, err := s.svc.Channels.List(parts).ForHandle(handle).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list forHandle: %w", err)
	}
	return resp.Items, nil
}

func (s *APIService) ListPlaylistItems(ctx context.Context, playlistID, pageToken string, maxResults int64) (*yt.PlaylistItemListResponse, error) {
	call := s.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(playlistID).
		MaxResults(maxResults).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("playlistItems.list: %w", err)
	}
	return resp, nil
}

func (s *APIService) ListVideos(ctx context.Context, ids []string, parts []string) ([]*yt.Video, error) {
	resp, err := s.svc.Videos.List(parts).Id(ids...).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("videos.list: %w", err)
	}
	return resp.Items, nil
}
