// Package crawler walks a channel's uploads playlist, newest first, down to a time cutoff.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

// DefaultPageSize is the number of playlist items requested per page.
const DefaultPageSize = youtube.MaxIDsPerCall

// Options bounds a crawl. The zero value walks the whole collection.
type Options struct {
	// Since stops the crawl at the first item published at or before it.
	Since time.Time
	// MaxResults stops the crawl once that many ids were collected.
	MaxResults int
}

// Upload is a collected playlist entry.
type Upload struct {
	VideoID     string
	PublishedAt time.Time
}

// Result is the outcome of a crawl.
type Result struct {
	CollectionID string
	VideoIDs     []string
	Uploads      []Upload
	CallsUsed    int
}

// Crawler lists uploads through the credential pool.
type Crawler struct {
	pool     *youtube.Pool
	pageSize int
	logger   *zap.Logger
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithPageSize sets the page size, capped at youtube.MaxIDsPerCall.
func WithPageSize(n int) Option {
	return func(c *Crawler) {
		if n > 0 && n <= youtube.MaxIDsPerCall {
			c.pageSize = n
		}
	}
}

// WithLogger sets the crawler logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Crawler) { c.logger = logger.OrNop(l) }
}

// New creates a Crawler.
func New(pool *youtube.Pool, opts ...Option) *Crawler {
	c := &Crawler{
		pool:     pool,
		pageSize: DefaultPageSize,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl collects the video ids of identifier's uploads collection.
//
// identifier is either a channel id, resolved to its uploads playlist with one
// extra call, or a playlist id used as is. Pages are assumed newest first.
// Items without a publish time are skipped. Errors are not retried here; on
// error the returned Result still reports the calls already spent.
func (c *Crawler) Crawl(ctx context.Context, identifier string, opts Options) (*Result, error) {
	if identifier == "" {
		return nil, errors.New("empty collection identifier")
	}

	res := &Result{CollectionID: identifier}

	if youtube.IsChannelID(identifier) {
		resolved, err := youtube.Execute(ctx, c.pool, youtube.ResolveUploadsCall{ChannelID: identifier})
		res.CallsUsed++
		if err != nil {
			return res, fmt.Errorf("resolve uploads of %s: %w", identifier, err)
		}
		res.CollectionID = resolved.Payload
	}

	pageToken := ""
	for {
		pageSize := c.pageSize
		if opts.MaxResults > 0 {
			pageSize = min(pageSize, opts.MaxResults-len(res.VideoIDs))
		}

		page, err := youtube.Execute(ctx, c.pool, youtube.PlaylistPageCall{
			PlaylistID: res.CollectionID,
			PageToken:  pageToken,
			MaxResults: int64(pageSize),
		})
		res.CallsUsed++
		if err != nil {
			return res, fmt.Errorf("list %s: %w", res.CollectionID, err)
		}

		for _, item := range page.Payload.Items {
			publishedAt, ok := youtube.ParsePublishedAt(item)
			if !ok {
				c.logger.Debug("skipping playlist item without publish time",
					zap.String("collection_id", res.CollectionID))
				continue
			}

			videoID := youtube.PlaylistItemVideoID(item)
			if videoID == "" {
				c.logger.Debug("skipping playlist item without video id",
					zap.String("collection_id", res.CollectionID))
				continue
			}

			if !opts.Since.IsZero() && !publishedAt.After(opts.Since) {
				return res, nil
			}

			res.VideoIDs = append(res.VideoIDs, videoID)
			res.Uploads = append(res.Uploads, Upload{VideoID: videoID, PublishedAt: publishedAt})

			if opts.MaxResults > 0 && len(res.VideoIDs) >= opts.MaxResults {
				return res, nil
			}
		}

		if page.Payload.NextPageToken == "" {
			return res, nil
		}
		pageToken = page.Payload.NextPageToken
	}
}
