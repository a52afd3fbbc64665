package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/analytics"
	"github.com/ad-tracker/youtube-stats-collector/internal/config"
	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/repository"
	"github.com/ad-tracker/youtube-stats-collector/internal/metrics"
	"github.com/ad-tracker/youtube-stats-collector/internal/queue"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/crawler"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/discovery"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/fetcher"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/quota"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/sampler"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube"
	"github.com/ad-tracker/youtube-stats-collector/internal/validation"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *pgxpool.Pool
	registry *prometheus.Registry
	metrics  *metrics.Collector
	pool     *youtube.Pool
	quota    *quota.Manager
	sampler  *sampler.Scheduler
	discover *discovery.Service
	broker   *analytics.RabbitMQSink
	redis    *redis.Client

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logger.Log}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	pool, err := db.NewPool(ctx, dbConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = pool
	a.closers = append(a.closers, func() { db.Close(pool) })
	a.log.Info("database connection established", zap.Int32("max_conns", pool.Config().MaxConns))

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)
	metrics.RegisterPoolStats(a.registry, pool)

	channels := repository.NewChannelRepository(pool)
	videos := repository.NewVideoRepository(pool)
	schedules := repository.NewScheduleRepository(pool)

	dailyLimit := cfg.Quota.DailyLimitPerKey * len(cfg.YouTube.APIKeys)
	a.quota = quota.NewManager(
		repository.NewQuotaRepository(pool, dailyLimit),
		dailyLimit,
		cfg.Quota.ThresholdPercent,
		logger.Named("quota"),
	)

	poolOpts := []youtube.Option{
		youtube.WithMaxRetries(cfg.YouTube.MaxRetries),
		youtube.WithBackoff(cfg.YouTube.RetryBackoff),
		youtube.WithRateLimit(cfg.YouTube.RequestsPerSecond),
		youtube.WithHTTPClient(&http.Client{Timeout: cfg.YouTube.HTTPTimeout}),
		youtube.WithMetrics(a.metrics),
		youtube.WithLogger(logger.Named("pool")),
	}
	if cfg.Quota.Track {
		poolOpts = append(poolOpts, youtube.WithUsageTracker(a.quota))
	}
	a.pool, err = youtube.NewPoolFromKeys(ctx, cfg.YouTube.APIKeys, poolOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize credential pool: %w", err)
	}
	a.log.Info("credential pool initialized", zap.Int("credentials", a.pool.Size()))

	fetch := fetcher.New(a.pool, logger.Named("fetcher"))

	fence, err := a.fence()
	if err != nil {
		return err
	}
	sink, err := a.sink()
	if err != nil {
		return err
	}

	a.sampler = sampler.New(schedules, videos, fetch, sink,
		sampler.WithHorizon(cfg.Sampler.Horizon),
		sampler.WithPageSize(cfg.Sampler.PageSize),
		sampler.WithSourceTag(cfg.Sampler.SourceTag),
		sampler.WithFence(fence),
		sampler.WithMetrics(a.metrics),
		sampler.WithLogger(logger.Named("sampler")),
	)

	crawl := crawler.New(a.pool,
		crawler.WithPageSize(cfg.YouTube.PageSize),
		crawler.WithLogger(logger.Named("crawler")),
	)
	a.discover = discovery.New(channels, videos, schedules, crawl, fetch,
		discovery.WithLookback(cfg.Discovery.Lookback),
		discovery.WithMaxResults(cfg.Discovery.MaxResultsPerChannel),
		discovery.WithChannelPageSize(cfg.Discovery.ChannelPageSize),
		discovery.WithConcurrency(cfg.Discovery.Concurrency),
		discovery.WithValidator(validation.New(true)),
		discovery.WithMetrics(a.metrics),
		discovery.WithLogger(logger.Named("discovery")),
	)

	return nil
}

func (a *app) fence() (sampler.Fence, error) {
	switch a.cfg.Sampler.Fence {
	case "postgres":
		return sampler.NewPostgresFence(repository.NewBinTickRepository(a.db)), nil
	case "redis":
		client, err := a.redisClient()
		if err != nil {
			return nil, err
		}
		return sampler.NewRedisFence(client, sampler.DefaultRedisFenceTTL), nil
	default:
		return sampler.NoFence{}, nil
	}
}

func (a *app) redisClient() (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := queue.NewRedisClient(a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}
	a.redis = client
	a.closers = append(a.closers, func() { _ = client.Close() })
	return client, nil
}

func (a *app) sink() (analytics.Sink, error) {
	var sinks analytics.FanOut
	for _, name := range a.cfg.Analytics.Sinks {
		switch name {
		case "postgres":
			sinks = append(sinks, analytics.NewPostgresSink(
				repository.NewStatSampleRepository(a.db), logger.Named("analytics")))
		case "rabbitmq":
			broker, err := analytics.NewRabbitMQSink(&a.cfg.RabbitMQ, logger.Named("rabbitmq"))
			if err != nil {
				return nil, fmt.Errorf("failed to initialize rabbitmq sink: %w", err)
			}
			a.broker = broker
			a.closers = append(a.closers, func() {
				if err := broker.Close(); err != nil {
					a.log.Warn("failed to close rabbitmq sink", zap.Error(err))
				}
			})
			sinks = append(sinks, broker)
		}
	}

	switch len(sinks) {
	case 0:
		return nil, errors.New("no analytics sink configured")
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func dbConfig(c config.DatabaseConfig) *db.Config {
	return &db.Config{
		URL:             c.URL,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Name,
		SSLMode:         c.SSLMode,
		MaxConns:        int32(c.MaxConnections),
		MinConns:        int32(c.MinConnections),
		MaxConnLifetime: c.MaxLifetime,
		MaxConnIdleTime: c.MaxIdleTime,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
