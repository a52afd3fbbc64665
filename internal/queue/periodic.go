package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/config"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

// Registrar registers cron entries. *asynq.Scheduler implements it.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// NewScheduler creates an asynq scheduler that enqueues in UTC.
func NewScheduler(redisAddr string, log *zap.Logger) (*asynq.Scheduler, error) {
	redisOpt, err := ParseRedisURL(redisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	log = logger.OrNop(log)

	return asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   log.Sugar(),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			switch {
			case err == nil:
				log.Debug("periodic task enqueued", zap.String("type", info.Type), zap.String("task_id", info.ID))
			case errors.Is(err, asynq.ErrDuplicateTask):
				log.Debug("periodic task already queued", zap.Error(err))
			default:
				log.Error("failed to enqueue periodic task", zap.Error(err))
			}
		},
	}), nil
}

// RegisterPeriodic registers the hourly tick and the discovery run. An empty cron
// expression disables its entry. It returns the registered entry ids.
func RegisterPeriodic(r Registrar, cfg config.WorkerConfig) ([]string, error) {
	var ids []string

	if cfg.TickCron != "" {
		task, err := NewTickTask(time.Time{}, false)
		if err != nil {
			return nil, err
		}
		id, err := r.Register(cfg.TickCron, task,
			asynq.Queue(QueueDefault),
			asynq.MaxRetry(2),
			asynq.Timeout(50*time.Minute),
			asynq.Unique(TickUniqueTTL),
		)
		if err != nil {
			return nil, fmt.Errorf("register tick cron %q: %w", cfg.TickCron, err)
		}
		ids = append(ids, id)
	}

	if cfg.DiscoverCron != "" {
		task, err := NewDiscoveryTask(time.Time{})
		if err != nil {
			return nil, err
		}
		id, err := r.Register(cfg.DiscoverCron, task,
			asynq.Queue(QueueDefault),
			asynq.MaxRetry(2),
			asynq.Timeout(2*time.Hour),
			asynq.Unique(DiscoveryUniqueTTL),
		)
		if err != nil {
			return nil, fmt.Errorf("register discovery cron %q: %w", cfg.DiscoverCron, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}
