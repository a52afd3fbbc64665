// Package sampler runs the hourly sampling tick: every video whose upload hour
// matches the current UTC hour gets one statistics sample per tick until it
// reaches the sample horizon.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	yt "google.golang.org/api/youtube/v3"

	"github.com/ad-tracker/youtube-stats-collector/internal/analytics"
	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/repository"
	"github.com/ad-tracker/youtube-stats-collector/internal/metrics"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/fetcher"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

const (
	// DefaultPageSize is the number of schedule rows read per page.
	DefaultPageSize = 50

	// DefaultSourceTag labels samples written by the hourly tick.
	DefaultSourceTag = "hourly_script"
)

var (
	// ErrSampleConflict means another writer advanced the video's sample counter first.
	ErrSampleConflict = errors.New("sample counter changed concurrently")

	// ErrHorizonReached means the video already has the maximum number of samples.
	ErrHorizonReached = errors.New("sample horizon reached")

	// ErrAlreadyTicked means the bin was already sampled during this hour.
	ErrAlreadyTicked = errors.New("bin already ticked this hour")
)

// VideoFetcher fetches video details in chunks.
type VideoFetcher interface {
	Videos(ctx context.Context, ids []string, parts ...string) (*fetcher.VideoBatch, error)
}

// TickOptions alters a single tick.
type TickOptions struct {
	// Force skips the fence, for operator re-runs.
	Force bool
}

// TickSummary reports what one tick did.
type TickSummary struct {
	RunID           string        `json:"run_id"`
	Bin             int           `json:"bin"`
	Eligible        int           `json:"eligible"`
	VideosProcessed int           `json:"videos_processed"`
	SamplesWritten  int           `json:"samples_written"`
	Failed          int           `json:"failed"`
	Missing         int           `json:"missing"`
	CallsUsed       int           `json:"calls_used"`
	Fenced          bool          `json:"fenced"`
	Duration        time.Duration `json:"duration"`
}

// Scheduler samples the videos of the current hour bin.
type Scheduler struct {
	schedules repository.ScheduleRepository
	videos    repository.VideoRepository
	fetcher   VideoFetcher
	sink      analytics.Sink
	fence     Fence

	horizon   int
	pageSize  int
	sourceTag string

	metrics *metrics.Collector
	logger  *zap.Logger
	newRun  func() string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHorizon sets the number of samples per video.
func WithHorizon(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.horizon = n
		}
	}
}

// WithPageSize sets the schedule page size.
func WithPageSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithSourceTag sets the label recorded on each sample.
func WithSourceTag(tag string) Option {
	return func(s *Scheduler) {
		if tag != "" {
			s.sourceTag = tag
		}
	}
}

// WithFence sets the tick fence. The default admits every tick.
func WithFence(f Fence) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.fence = f
		}
	}
}

// WithMetrics reports sampling metrics to m.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger.OrNop(l) }
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.newRun = fn
		}
	}
}

// New creates a Scheduler.
func New(
	schedules repository.ScheduleRepository,
	videos repository.VideoRepository,
	f VideoFetcher,
	sink analytics.Sink,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		schedules: schedules,
		videos:    videos,
		fetcher:   f,
		sink:      sink,
		fence:     NoFence{},
		horizon:   models.DefaultSampleHorizon,
		pageSize:  DefaultPageSize,
		sourceTag: DefaultSourceTag,
		logger:    zap.NewNop(),
		newRun:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunTick samples the bin of now's UTC hour.
func (s *Scheduler) RunTick(ctx context.Context, now time.Time) (*TickSummary, error) {
	return s.RunTickWithOptions(ctx, now, TickOptions{})
}

// RunTickWithOptions samples the bin of now's UTC hour.
//
// Per-video failures are logged and counted without stopping the tick. An
// error is returned only when the due list or the stats fetch fails; the fence
// claim is released in that case so a retry can still sample the hour.
func (s *Scheduler) RunTickWithOptions(ctx context.Context, now time.Time, opts TickOptions) (*TickSummary, error) {
	started := time.Now()
	now = now.UTC()
	bin := models.BinForTime(now)

	summary := &TickSummary{RunID: s.newRun(), Bin: bin}
	log := s.logger.With(zap.String("run_id", summary.RunID), zap.Int("bin", bin))

	hourStart := models.HourStart(now)
	claimed := false
	if !opts.Force {
		if err := s.fence.Acquire(ctx, bin, hourStart); err != nil {
			if errors.Is(err, ErrAlreadyTicked) {
				summary.Fenced = true
				s.metrics.ObserveTick(0, true)
				log.Info("tick skipped, bin already sampled this hour")
				return summary, nil
			}
			return nil, err
		}
		claimed = true
	}

	due, err := s.listDue(ctx, bin)
	if err != nil {
		if claimed {
			s.release(ctx, bin, hourStart, log)
		}
		return nil, err
	}
	summary.Eligible = len(due)

	if len(due) == 0 {
		summary.Duration = time.Since(started)
		s.metrics.ObserveTick(summary.Duration, false)
		log.Info("no videos due for bin")
		return summary, nil
	}

	ids := make([]string, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.VideoID)
	}

	batch, err := s.fetcher.Videos(ctx, ids, youtube.VideoStatsParts...)
	if batch != nil {
		summary.CallsUsed = batch.CallsUsed
	}
	if err != nil {
		log.Error("failed to fetch statistics", zap.Int("eligible", len(due)), zap.Error(err))
		if claimed {
			s.release(ctx, bin, hourStart, log)
		}
		return summary, fmt.Errorf("fetch statistics for bin %d: %w", bin, err)
	}

	expected := make(map[string]bool, len(due))
	for _, id := range ids {
		expected[id] = true
	}

	for _, item := range batch.Items {
		if item == nil || !expected[item.Id] {
			continue
		}
		delete(expected, item.Id)
		summary.VideosProcessed++

		if err := s.sampleVideo(ctx, item, now); err != nil {
			summary.Failed++
			s.metrics.SampleFailed()
			log.Warn("failed to sample video", zap.String("video_id", item.Id), zap.Error(err))
			continue
		}

		summary.SamplesWritten++
		s.metrics.SampleWritten(1)
	}

	summary.Missing = len(expected)
	for id := range expected {
		log.Debug("video not returned by upstream", zap.String("video_id", id))
	}

	summary.Duration = time.Since(started)
	s.metrics.ObserveTick(summary.Duration, false)

	log.Info("tick completed",
		zap.Int("eligible", summary.Eligible),
		zap.Int("videos_processed", summary.VideosProcessed),
		zap.Int("samples_written", summary.SamplesWritten),
		zap.Int("failed", summary.Failed),
		zap.Int("missing", summary.Missing),
		zap.Int("calls_used", summary.CallsUsed),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// release gives the hour back after a tick failed before writing any sample.
// It runs even when ctx is already cancelled.
func (s *Scheduler) release(ctx context.Context, bin int, hourStart time.Time, log *zap.Logger) {
	if err := s.fence.Release(context.WithoutCancel(ctx), bin, hourStart); err != nil {
		log.Error("failed to release tick fence, the hour stays claimed", zap.Error(err))
		return
	}
	log.Info("tick fence released for retry")
}

// listDue reads every due row of bin before any counter moves, so offsets stay valid.
func (s *Scheduler) listDue(ctx context.Context, bin int) ([]*models.VideoSchedule, error) {
	var due []*models.VideoSchedule
	for offset := 0; ; {
		page, err := s.schedules.ListDueForBin(ctx, bin, s.horizon, s.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list schedule for bin %d: %w", bin, err)
		}
		due = append(due, page...)
		if len(page) < s.pageSize {
			return due, nil
		}
		offset += len(page)
	}
}

// sampleVideo records one sample: counts first, then the counter, then the series row.
func (s *Scheduler) sampleVideo(ctx context.Context, item *yt.Video, now time.Time) error {
	counts, err := youtube.ParseCounts(item)
	if err != nil {
		return fmt.Errorf("parse counts: %w", err)
	}

	if err := s.videos.UpdateCounts(ctx, item.Id, counts); err != nil {
		return err
	}

	dayIndex, err := s.schedules.GetCurrentSample(ctx, item.Id)
	if err != nil {
		return err
	}
	if dayIndex >= s.horizon {
		return ErrHorizonReached
	}

	advanced, err := s.schedules.IncrementSample(ctx, item.Id, dayIndex, s.horizon)
	if err != nil {
		return err
	}
	if !advanced {
		return fmt.Errorf("%w: day index %d", ErrSampleConflict, dayIndex)
	}

	sample := models.NewStatSample(item.Id, dayIndex, now, counts, s.sourceTag, db.SampleKey(item.Id, dayIndex))
	if err := s.sink.Append(ctx, sample); err != nil {
		return fmt.Errorf("append sample %d: %w", dayIndex, err)
	}

	return nil
}
