package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

const (
	// TickUniqueTTL keeps a second tick for the same hour out of the queue.
	TickUniqueTTL = 55 * time.Minute

	// DiscoveryUniqueTTL keeps overlapping discovery runs out of the queue.
	DiscoveryUniqueTTL = 30 * time.Minute
)

// ErrAlreadyQueued is returned when an equivalent task is already queued.
var ErrAlreadyQueued = errors.New("task already queued")

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client wraps asynq client for enqueueing tasks
type Client struct {
	asynqClient enqueuer
	logger      *zap.Logger
}

// NewClient creates a new queue client
func NewClient(redisAddr string, log *zap.Logger) (*Client, error) {
	// Parse Redis URL to extract connection details (host, password, db, TLS)
	redisOpt, err := ParseRedisURL(redisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return newClient(asynq.NewClient(redisOpt), log), nil
}

func newClient(e enqueuer, log *zap.Logger) *Client {
	return &Client{asynqClient: e, logger: logger.OrNop(log)}
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.asynqClient.Close()
}

// EnqueueTick enqueues a sampler tick for now's hour.
// Unless forced, a tick for an hour that is already queued returns ErrAlreadyQueued.
func (c *Client) EnqueueTick(ctx context.Context, now time.Time, force bool) (*asynq.TaskInfo, error) {
	now = now.UTC()
	task, err := NewTickTask(now, force)
	if err != nil {
		return nil, err
	}

	opts := []asynq.Option{
		asynq.MaxRetry(2),
		asynq.Timeout(50 * time.Minute),
		asynq.Queue(QueueDefault),
	}
	if !force {
		opts = append(opts, asynq.TaskID(TickTaskID(now)), asynq.Unique(TickUniqueTTL))
	}

	info, err := c.asynqClient.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, enqueueError("tick", err)
	}

	c.logger.Info("enqueued sampler tick",
		zap.String("task_id", info.ID),
		zap.Int("bin", now.Hour()),
		zap.Bool("force", force))
	return info, nil
}

// EnqueueDiscovery enqueues an upload discovery run.
func (c *Client) EnqueueDiscovery(ctx context.Context, now time.Time) (*asynq.TaskInfo, error) {
	task, err := NewDiscoveryTask(now.UTC())
	if err != nil {
		return nil, err
	}

	info, err := c.asynqClient.EnqueueContext(ctx, task,
		asynq.MaxRetry(2),
		asynq.Timeout(2*time.Hour),
		asynq.Queue(QueueDefault),
		asynq.Unique(DiscoveryUniqueTTL),
	)
	if err != nil {
		return nil, enqueueError("discovery", err)
	}

	c.logger.Info("enqueued upload discovery", zap.String("task_id", info.ID))
	return info, nil
}

func enqueueError(kind string, err error) error {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("%s: %w", kind, ErrAlreadyQueued)
	}
	return fmt.Errorf("failed to enqueue %s task: %w", kind, err)
}
