package youtube

import (
	"context"
	"errors"
	"fmt"

	yt "google.golang.org/api/youtube/v3"
)

const (
	// MaxIDsPerCall is the upstream limit on ids in one list request.
	MaxIDsPerCall = 50

	// UnitCost is the quota charged for one list request.
	UnitCost = 1
)

// Part sets requested from the upstream service.
var (
	VideoDefaultParts   = []string{"id", "snippet", "contentDetails", "statistics", "status", "topicDetails"}
	VideoStatsParts     = []string{"id", "statistics"}
	ChannelDefaultParts = []string{"id", "snippet", "contentDetails", "statistics", "topicDetails", "status"}
)

// Result is a decoded payload and the quota it cost.
type Result[T any] struct {
	Payload T
	Cost    int
}

// Call is one upstream operation, performed by the pool through a credential's Service.
type Call[T any] interface {
	Operation() string
	Perform(ctx context.Context, svc Service) (Result[T], error)
}

// ResolveUploadsCall looks up the uploads playlist of a channel.
type ResolveUploadsCall struct {
	ChannelID string
}

func (c ResolveUploadsCall) Operation() string { return "channels.list" }

func (c ResolveUploadsCall) Perform(ctx context.Context, svc Service) (Result[string], error) {
	items, err := svc.ListChannels(ctx, []string{c.ChannelID}, []string{"contentDetails"})
	if err != nil {
		return Result[string]{}, err
	}
	if len(items) == 0 {
		return Result[string]{}, Permanent(fmt.Errorf("%w: %s", ErrChannelNotFound, c.ChannelID))
	}

	details := items[0].ContentDetails
	if details == nil || details.RelatedPlaylists == nil || details.RelatedPlaylists.Uploads == "" {
		return Result[string]{}, Permanent(fmt.Errorf("%w: %s", ErrNoUploadsCollection, c.ChannelID))
	}

	return Result[string]{Payload: details.RelatedPlaylists.Uploads, Cost: UnitCost}, nil
}

// PlaylistPageCall fetches one page of a playlist.
type PlaylistPageCall struct {
	PlaylistID string
	PageToken  string
	MaxResults int64
}

func (c PlaylistPageCall) Operation() string { return "playlistItems.list" }

func (c PlaylistPageCall) Perform(ctx context.Context, svc Service) (Result[*yt.PlaylistItemListResponse], error) {
	maxResults := c.MaxResults
	if maxResults <= 0 || maxResults > MaxIDsPerCall {
		maxResults = MaxIDsPerCall
	}

	resp, err := svc.ListPlaylistItems(ctx, c.PlaylistID, c.PageToken, maxResults)
	if err != nil {
		return Result[*yt.PlaylistItemListResponse]{}, err
	}
	if resp == nil {
		return Result[*yt.PlaylistItemListResponse]{}, errors.New("playlistItems.list: empty response")
	}

	return Result[*yt.PlaylistItemListResponse]{Payload: resp, Cost: UnitCost}, nil
}

// VideoDetailsCall fetches up to MaxIDsPerCall videos.
type VideoDetailsCall struct {
	IDs   []string
	Parts []string
}

func (c VideoDetailsCall) Operation() string { return "videos.list" }

func (c VideoDetailsCall) Perform(ctx context.Context, svc Service) (Result[[]*yt.Video], error) {
	if err := checkIDs(c.IDs); err != nil {
		return Result[[]*yt.Video]{}, err
	}

	items, err := svc.ListVideos(ctx, c.IDs, partsOr(c.Parts, VideoDefaultParts))
	if err != nil {
		return Result[[]*yt.Video]{}, err
	}

	return Result[[]*yt.Video]{Payload: items, Cost: UnitCost}, nil
}

// ChannelDetailsCall fetches up to MaxIDsPerCall channels.
type ChannelDetailsCall struct {
	IDs   []string
	Parts []string
}

func (c ChannelDetailsCall) Operation() string { return "channels.list" }

func (c ChannelDetailsCall) Perform(ctx context.Context, svc Service) (Result[[]*yt.Channel], error) {
	if err := checkIDs(c.IDs); err != nil {
		return Result[[]*yt.Channel]{}, err
	}

	items, err := svc.ListChannels(ctx, c.IDs, partsOr(c.Parts, ChannelDefaultParts))
	if err != nil {
		return Result[[]*yt.Channel]{}, err
	}

	return Result[[]*yt.Channel]{Payload: items, Cost: UnitCost}, nil
}

// ChannelByHandleCall resolves a channel from its @handle.
type ChannelByHandleCall struct {
	Handle string
	Parts  []string
}

func (c ChannelByHandleCall) Operation() string { return "channels.list" }

func (c ChannelByHandleCall) Perform(ctx context.Context, svc Service) (Result[[]*yt.Channel], error) {
	if c.Handle == "" {
		return Result[[]*yt.Channel]{}, Permanent(errors.New("empty channel handle"))
	}

	items, err := svc.ChannelsByHandle(ctx, c.Handle, partsOr(c.Parts, ChannelDefaultParts))
	if err != nil {
		return Result[[]*yt.Channel]{}, err
	}

	return Result[[]*yt.Channel]{Payload: items, Cost: UnitCost}, nil
}

func checkIDs(ids []string) error {
	if len(ids) == 0 {
		return Permanent(errors.New("no ids provided"))
	}
	if len(ids) > MaxIDsPerCall {
		return Permanent(fmt.Errorf("%w: max %d, got %d", ErrTooManyIDs, MaxIDsPerCall, len(ids)))
	}
	return nil
}

func partsOr(parts, fallback []string) []string {
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
