package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/service/discovery"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/quota"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/sampler"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

// TickRunner runs one sampling tick.
type TickRunner interface {
	RunTickWithOptions(ctx context.Context, now time.Time, opts sampler.TickOptions) (*sampler.TickSummary, error)
}

// DiscoveryRunner runs one upload discovery.
type DiscoveryRunner interface {
	DiscoverUploads(ctx context.Context, now time.Time) (*discovery.DiscoverySummary, error)
}

// Handler processes collector tasks.
type Handler struct {
	ticks     TickRunner
	discovery DiscoveryRunner
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler creates a task handler. A nil runner leaves its task type unregistered.
func NewHandler(ticks TickRunner, d DiscoveryRunner, log *zap.Logger) *Handler {
	return &Handler{
		ticks:     ticks,
		discovery: d,
		logger:    logger.OrNop(log),
		now:       time.Now,
	}
}

// Register adds the handlers to mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	if h.ticks != nil {
		mux.HandleFunc(TypeSamplerTick, h.HandleTick)
	}
	if h.discovery != nil {
		mux.HandleFunc(TypeDiscoveryUploads, h.HandleDiscovery)
	}
}

// HandleTick implements asynq.HandlerFunc for sampler ticks.
func (h *Handler) HandleTick(ctx context.Context, task *asynq.Task) error {
	payload, err := UnmarshalTickPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	now := payload.RequestedAt
	if now.IsZero() {
		now = h.now()
	}

	summary, err := h.ticks.RunTickWithOptions(ctx, now.UTC(), sampler.TickOptions{Force: payload.Force})
	if err != nil {
		h.logger.Error("sampler tick failed", zap.Int("bin", now.UTC().Hour()), zap.Error(err))
		return retryPolicy(err)
	}

	writeResult(task, summary)
	return nil
}

// HandleDiscovery implements asynq.HandlerFunc for upload discovery.
func (h *Handler) HandleDiscovery(ctx context.Context, task *asynq.Task) error {
	payload, err := UnmarshalDiscoveryPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	now := payload.RequestedAt
	if now.IsZero() {
		now = h.now()
	}

	summary, err := h.discovery.DiscoverUploads(ctx, now.UTC())
	if err != nil {
		h.logger.Error("upload discovery failed", zap.Error(err))
		return retryPolicy(err)
	}

	writeResult(task, summary)
	return nil
}

// retryPolicy marks quota failures as final. Retrying them only burns the next key's budget.
func retryPolicy(err error) error {
	if errors.Is(err, youtube.ErrQuotaExhausted) || errors.Is(err, quota.ErrBudgetReached) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func writeResult(task *asynq.Task, v any) {
	w := task.ResultWriter()
	if w == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

// Server wraps asynq server for processing tasks
type Server struct {
	asynqServer *asynq.Server
	mux         *asynq.ServeMux
	logger      *zap.Logger
}

// NewServer creates a new task processing server
func NewServer(redisAddr string, concurrency int, handler *Handler, log *zap.Logger) (*Server, error) {
	// Parse Redis URL to extract connection details (host, password, db, TLS)
	redisOpt, err := ParseRedisURL(redisAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	log = logger.OrNop(log)

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueDefault: 10,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("task failed", zap.String("type", task.Type()), zap.Error(err))
			}),
			Logger: log.Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	handler.Register(mux)

	return &Server{
		asynqServer: srv,
		mux:         mux,
		logger:      log,
	}, nil
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("starting task processing server")
	return s.asynqServer.Start(s.mux)
}

// Stop gracefully stops the server
func (s *Server) Stop() {
	s.logger.Info("shutting down task processing server")
	s.asynqServer.Shutdown()
}
