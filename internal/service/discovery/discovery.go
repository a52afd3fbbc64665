// Package discovery registers channels and finds their new uploads, creating
// the video rows and sampling schedules the hourly tick works from.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	yt "google.golang.org/api/youtube/v3"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/repository"
	"github.com/ad-tracker/youtube-stats-collector/internal/metrics"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/crawler"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/fetcher"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/quota"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube"
	"github.com/ad-tracker/youtube-stats-collector/internal/validation"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

const (
	DefaultLookback        = 72 * time.Hour
	DefaultMaxResults      = 25
	DefaultChannelPageSize = 100
	DefaultConcurrency     = 4
)

// Crawler lists the uploads of a collection.
type Crawler interface {
	Crawl(ctx context.Context, identifier string, opts crawler.Options) (*crawler.Result, error)
}

// Fetcher fetches video and channel details.
type Fetcher interface {
	Videos(ctx context.Context, ids []string, parts ...string) (*fetcher.VideoBatch, error)
	Channels(ctx context.Context, refs []string, parts ...string) (*fetcher.ChannelBatch, error)
}

// PopulateSummary reports what PopulateChannels did.
type PopulateSummary struct {
	RunID     string `json:"run_id"`
	Requested int    `json:"requested"`
	Existing  int    `json:"existing"`
	Invalid   int    `json:"invalid"`
	Fetched   int    `json:"fetched"`
	Upserted  int    `json:"upserted"`
	Failed    int    `json:"failed"`
	CallsUsed int    `json:"calls_used"`
}

// DiscoverySummary reports what DiscoverUploads did.
type DiscoverySummary struct {
	RunID               string        `json:"run_id"`
	ChannelsCrawled     int           `json:"channels_crawled"`
	ChannelsFailed      int           `json:"channels_failed"`
	ChannelsDeactivated int           `json:"channels_deactivated"`
	VideosDiscovered    int           `json:"videos_discovered"`
	VideosInserted      int           `json:"videos_inserted"`
	SchedulesCreated    int           `json:"schedules_created"`
	SchedulesRejected   int           `json:"schedules_rejected"`
	Failed              int           `json:"failed"`
	CallsUsed           int           `json:"calls_used"`
	Duration            time.Duration `json:"duration"`
}

// Service orchestrates channel population and upload discovery.
type Service struct {
	channels  repository.ChannelRepository
	videos    repository.VideoRepository
	schedules repository.ScheduleRepository
	crawler   Crawler
	fetcher   Fetcher
	validator *validation.Validator

	lookback        time.Duration
	maxResults      int
	channelPageSize int
	concurrency     int

	metrics *metrics.Collector
	logger  *zap.Logger
	newRun  func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLookback sets how far back a crawl looks for uploads.
func WithLookback(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lookback = d
		}
	}
}

// WithMaxResults caps the ids collected per channel.
func WithMaxResults(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxResults = n
		}
	}
}

// WithChannelPageSize sets the page size used to list active channels.
func WithChannelPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.channelPageSize = n
		}
	}
}

// WithConcurrency sets how many channels are crawled at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithValidator replaces the channel reference validator.
func WithValidator(v *validation.Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logger.OrNop(l) }
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newRun = fn
		}
	}
}

// New creates a Service.
func New(
	channels repository.ChannelRepository,
	videos repository.VideoRepository,
	schedules repository.ScheduleRepository,
	c Crawler,
	f Fetcher,
	opts ...Option,
) *Service {
	s := &Service{
		channels:        channels,
		videos:          videos,
		schedules:       schedules,
		crawler:         c,
		fetcher:         f,
		validator:       validation.New(true),
		lookback:        DefaultLookback,
		maxResults:      DefaultMaxResults,
		channelPageSize: DefaultChannelPageSize,
		concurrency:     DefaultConcurrency,
		logger:          zap.NewNop(),
		newRun:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PopulateChannels registers channels given as ids or @handles.
// Refs already stored are skipped without an upstream call; invalid refs are
// logged and skipped. Only a failing details fetch returns an error.
func (s *Service) PopulateChannels(ctx context.Context, refs []string) (*PopulateSummary, error) {
	summary := &PopulateSummary{RunID: s.newRun()}
	log := s.logger.With(zap.String("run_id", summary.RunID))

	seen := make(map[string]bool, len(refs))
	var candidates []string
	for _, ref := range refs {
		ref = validation.NormalizeChannelRef(ref)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		candidates = append(candidates, ref)
	}
	summary.Requested = len(candidates)

	existing, err := s.channels.ExistingIDs(ctx, candidates)
	if err != nil {
		return summary, fmt.Errorf("load existing channels: %w", err)
	}

	var toFetch []string
	for _, ref := range candidates {
		if existing[ref] {
			summary.Existing++
			continue
		}
		if err := s.validator.ValidateChannelRef(ref); err != nil {
			summary.Invalid++
			log.Warn("skipping channel reference", zap.String("channel_ref", ref), zap.Error(err))
			continue
		}
		toFetch = append(toFetch, ref)
	}

	if len(toFetch) == 0 {
		log.Info("no new channels to populate", zap.Int("existing", summary.Existing), zap.Int("invalid", summary.Invalid))
		return summary, nil
	}

	batch, err := s.fetcher.Channels(ctx, toFetch, youtube.ChannelDefaultParts...)
	if batch != nil {
		summary.CallsUsed = batch.CallsUsed
	}
	if err != nil {
		return summary, fmt.Errorf("fetch channel details: %w", err)
	}
	summary.Fetched = len(batch.Items)

	now := time.Now().UTC()
	for _, item := range batch.Items {
		channel, err := youtube.MapChannel(item, now)
		if err != nil {
			summary.Failed++
			log.Warn("failed to map channel", zap.Error(err))
			continue
		}
		if err := s.channels.UpsertChannel(ctx, channel); err != nil {
			summary.Failed++
			log.Warn("failed to store channel", zap.String("channel_id", channel.ChannelID), zap.Error(err))
			continue
		}
		summary.Upserted++
		log.Debug("channel stored", zap.String("channel_id", channel.ChannelID), zap.String("title", channel.Title))
	}

	log.Info("channels populated",
		zap.Int("requested", summary.Requested),
		zap.Int("existing", summary.Existing),
		zap.Int("invalid", summary.Invalid),
		zap.Int("fetched", summary.Fetched),
		zap.Int("upserted", summary.Upserted),
		zap.Int("calls_used", summary.CallsUsed))

	return summary, nil
}

type crawlOutcome struct {
	uploads   []crawler.Upload
	callsUsed int
	err       error
}

// DiscoverUploads crawls every active channel for uploads newer than
// now minus the lookback, then stores the new videos with a fresh schedule.
//
// A failed crawl marks the channel inactive and the run goes on. Local budget
// denials and cancellation stop new crawls without touching channel state.
func (s *Service) DiscoverUploads(ctx context.Context, now time.Time) (*DiscoverySummary, error) {
	started := time.Now()
	now = now.UTC()
	summary := &DiscoverySummary{RunID: s.newRun()}
	log := s.logger.With(zap.String("run_id", summary.RunID))

	channels, err := s.listActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		log.Info("no active channels")
		summary.Duration = time.Since(started)
		return summary, nil
	}

	opts := crawler.Options{Since: now.Add(-s.lookback), MaxResults: s.maxResults}
	outcomes := make([]crawlOutcome, len(channels))
	var stopped atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, ch := range channels {
		g.Go(func() error {
			if stopped.Load() || gctx.Err() != nil {
				outcomes[i].err = context.Canceled
				return nil
			}
			res, err := s.crawler.Crawl(gctx, ch.UploadsCollection(), opts)
			if res != nil {
				outcomes[i].uploads = res.Uploads
				outcomes[i].callsUsed = res.CallsUsed
			}
			outcomes[i].err = err
			if err != nil && errors.Is(err, quota.ErrBudgetReached) {
				stopped.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool)
	var ids []string
	for i, out := range outcomes {
		ch := channels[i]
		summary.CallsUsed += out.callsUsed

		if out.err != nil {
			summary.ChannelsFailed++
			if s.keepsChannelActive(ctx, out.err) {
				log.Warn("crawl interrupted", zap.String("channel_id", ch.ChannelID), zap.Error(out.err))
				continue
			}
			if err := s.channels.MarkInactive(ctx, ch.ChannelID); err != nil {
				log.Error("failed to mark channel inactive", zap.String("channel_id", ch.ChannelID), zap.Error(err))
			} else {
				summary.ChannelsDeactivated++
				s.metrics.ChannelDeactivated()
			}
			log.Warn("crawl failed, channel marked inactive", zap.String("channel_id", ch.ChannelID), zap.Error(out.err))
			continue
		}

		summary.ChannelsCrawled++
		for _, u := range out.uploads {
			if !seen[u.VideoID] {
				seen[u.VideoID] = true
				ids = append(ids, u.VideoID)
			}
		}
		log.Debug("channel crawled", zap.String("channel_id", ch.ChannelID), zap.Int("uploads", len(out.uploads)))
	}
	summary.VideosDiscovered = len(ids)
	s.metrics.VideoDiscovered(len(ids))

	if len(ids) == 0 {
		summary.Duration = time.Since(started)
		log.Info("no new uploads found", zap.Int("channels_crawled", summary.ChannelsCrawled), zap.Int("channels_failed", summary.ChannelsFailed))
		return summary, nil
	}

	batch, err := s.fetcher.Videos(ctx, ids)
	if batch != nil {
		summary.CallsUsed += batch.CallsUsed
	}
	if err != nil {
		summary.Duration = time.Since(started)
		return summary, fmt.Errorf("fetch details of %d videos: %w", len(ids), err)
	}

	for _, item := range batch.Items {
		if item == nil {
			continue
		}
		if err := s.storeVideo(ctx, item, now, summary); err != nil {
			summary.Failed++
			log.Warn("failed to store video", zap.String("video_id", item.Id), zap.Error(err))
		}
	}

	summary.Duration = time.Since(started)
	log.Info("discovery completed",
		zap.Int("channels_crawled", summary.ChannelsCrawled),
		zap.Int("channels_failed", summary.ChannelsFailed),
		zap.Int("videos_discovered", summary.VideosDiscovered),
		zap.Int("videos_inserted", summary.VideosInserted),
		zap.Int("schedules_created", summary.SchedulesCreated),
		zap.Int("schedules_rejected", summary.SchedulesRejected),
		zap.Int("calls_used", summary.CallsUsed),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

func (s *Service) keepsChannelActive(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, quota.ErrBudgetReached)
}

// listActive reads every active channel before any is deactivated, so offsets stay valid.
func (s *Service) listActive(ctx context.Context) ([]*models.Channel, error) {
	var all []*models.Channel
	for offset := 0; ; {
		page, err := s.channels.ListActive(ctx, s.channelPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list active channels: %w", err)
		}
		all = append(all, page...)
		if len(page) < s.channelPageSize {
			return all, nil
		}
		offset += len(page)
	}
}

// storeVideo inserts the video and its schedule. Both inserts ignore rows that already exist.
func (s *Service) storeVideo(ctx context.Context, item *yt.Video, now time.Time, summary *DiscoverySummary) error {
	video, err := youtube.MapVideo(item, now)
	if err != nil {
		return err
	}

	inserted, err := s.videos.InsertVideo(ctx, video)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	if inserted {
		summary.VideosInserted++
	}

	created, err := s.schedules.InsertSchedule(ctx, models.NewVideoSchedule(video.VideoID, video.PublishedAt))
	if db.IsCheckViolation(err) {
		// The video row is kept; only its sampling schedule is invalid.
		summary.SchedulesRejected++
		s.logger.Error("schedule rejected",
			zap.String("video_id", video.VideoID),
			zap.Time("published_at", video.PublishedAt),
			zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	if created {
		summary.SchedulesCreated++
	}

	return nil
}
