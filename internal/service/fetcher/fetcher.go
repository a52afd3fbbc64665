// Package fetcher retrieves video and channel details in chunks of at most
// youtube.MaxIDsPerCall ids per call.
package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	yt "google.golang.org/api/youtube/v3"

	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

// VideoBatch holds fetched videos in chunk order.
// Order within a chunk is whatever the upstream returned.
type VideoBatch struct {
	Items     []*yt.Video
	CallsUsed int
}

// ChannelBatch holds fetched channels. Id chunks come first, then handles in input order.
type ChannelBatch struct {
	Items     []*yt.Channel
	CallsUsed int
}

// Fetcher issues one details call per chunk through the credential pool.
type Fetcher struct {
	pool   *youtube.Pool
	logger *zap.Logger
}

// New creates a Fetcher.
func New(pool *youtube.Pool, log *zap.Logger) *Fetcher {
	return &Fetcher{pool: pool, logger: logger.OrNop(log)}
}

// Videos fetches ids with the given parts, youtube.VideoDefaultParts if none.
// A failing chunk aborts the fetch; the batch then reports the calls spent so far.
func (f *Fetcher) Videos(ctx context.Context, ids []string, parts ...string) (*VideoBatch, error) {
	batch := &VideoBatch{}
	chunks := youtube.ChunkIDs(ids, youtube.MaxIDsPerCall)

	for i, chunk := range chunks {
		res, err := youtube.Execute(ctx, f.pool, youtube.VideoDetailsCall{IDs: chunk, Parts: parts})
		batch.CallsUsed++
		if err != nil {
			f.logger.Error("video details chunk failed",
				zap.Int("chunk", i),
				zap.Int("chunks", len(chunks)),
				zap.Error(err))
			return &VideoBatch{CallsUsed: batch.CallsUsed}, fmt.Errorf("fetch videos chunk %d/%d: %w", i+1, len(chunks), err)
		}
		batch.Items = append(batch.Items, res.Payload...)
	}

	return batch, nil
}

// Video fetches a single video. A missing video yields an empty batch.
func (f *Fetcher) Video(ctx context.Context, id string, parts ...string) (*VideoBatch, error) {
	if id == "" {
		return &VideoBatch{}, nil
	}
	return f.Videos(ctx, []string{id}, parts...)
}

// Channels fetches channel refs, which are channel ids or @handles.
// Ids are chunked; each handle costs one call of its own.
func (f *Fetcher) Channels(ctx context.Context, refs []string, parts ...string) (*ChannelBatch, error) {
	batch := &ChannelBatch{}

	var ids, handles []string
	for _, ref := range refs {
		if youtube.IsHandle(ref) {
			handles = append(handles, ref)
		} else {
			ids = append(ids, ref)
		}
	}

	chunks := youtube.ChunkIDs(ids, youtube.MaxIDsPerCall)
	for i, chunk := range chunks {
		res, err := youtube.Execute(ctx, f.pool, youtube.ChannelDetailsCall{IDs: chunk, Parts: parts})
		batch.CallsUsed++
		if err != nil {
			return &ChannelBatch{CallsUsed: batch.CallsUsed}, fmt.Errorf("fetch channels chunk %d/%d: %w", i+1, len(chunks), err)
		}
		batch.Items = append(batch.Items, res.Payload...)
	}

	for _, handle := range handles {
		res, err := youtube.Execute(ctx, f.pool, youtube.ChannelByHandleCall{Handle: handle, Parts: parts})
		batch.CallsUsed++
		if err != nil {
			return &ChannelBatch{CallsUsed: batch.CallsUsed}, fmt.Errorf("fetch channel %s: %w", handle, err)
		}
		if len(res.Payload) == 0 {
			f.logger.Warn("channel handle not found", zap.String("handle", handle))
		}
		batch.Items = append(batch.Items, res.Payload...)
	}

	return batch, nil
}
