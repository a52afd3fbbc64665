// Package analytics appends statistics samples to the time-series stores.
package analytics

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/repository"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

// Sink accepts append-only samples. Redelivering a sample must be harmless.
type Sink interface {
	Append(ctx context.Context, samples ...models.StatSample) error
}

// PostgresSink appends to the video_stats table.
type PostgresSink struct {
	repo   repository.StatSampleRepository
	logger *zap.Logger
}

// NewPostgresSink creates a PostgresSink.
func NewPostgresSink(repo repository.StatSampleRepository, log *zap.Logger) *PostgresSink {
	return &PostgresSink{repo: repo, logger: logger.OrNop(log)}
}

func (s *PostgresSink) Append(ctx context.Context, samples ...models.StatSample) error {
	inserted, err := s.repo.Append(ctx, samples...)
	if err != nil {
		return fmt.Errorf("postgres sink: %w", err)
	}
	if skipped := len(samples) - inserted; skipped > 0 {
		s.logger.Debug("duplicate samples ignored", zap.Int("skipped", skipped))
	}
	return nil
}

// FanOut appends to every member and joins their errors.
type FanOut []Sink

func (f FanOut) Append(ctx context.Context, samples ...models.StatSample) error {
	if len(samples) == 0 {
		return nil
	}
	var errs []error
	for _, sink := range f {
		if err := sink.Append(ctx, samples...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
