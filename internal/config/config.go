// Package config provides configuration management for the collector.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the collector binaries.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	YouTube   YouTubeConfig
	Quota     QuotaConfig
	Sampler   SamplerConfig
	Discovery DiscoveryConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Analytics AnalyticsConfig
	Worker    WorkerConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// YouTubeConfig configures the credential pool and the upstream client.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type YouTubeConfig struct {
	APIKeys           []string
	MaxRetries        int
	RetryBackoff      time.Duration
	RequestsPerSecond float64
	PageSize          int
	HTTPTimeout       time.Duration
}

// QuotaConfig configures the persisted daily quota budget.
type QuotaConfig struct {
	DailyLimitPerKey int
	ThresholdPercent int
	Track            bool
}

// SamplerConfig configures the hourly sampling scheduler.
type SamplerConfig struct {
	Horizon   int
	PageSize  int
	SourceTag string
	Fence     string
}

// DiscoveryConfig configures new-upload discovery.
type DiscoveryConfig struct {
	Lookback             time.Duration
	MaxResultsPerChannel int
	ChannelPageSize      int
	Concurrency          int
}

// DatabaseConfig contains database connection configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type DatabaseConfig struct {
	URL            string
	Host           string
	Name           string
	User           string
	Password       string
	SSLMode        string
	Port           int
	MaxConnections int
	MinConnections int
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
}

// RedisConfig contains the Redis address used by asynq and the redis tick fence.
type RedisConfig struct {
	URL string
}

// RabbitMQConfig contains the broker settings of the RabbitMQ analytics sink.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RabbitMQConfig struct {
	Host       string
	User       string
	Password   string
	Exchange   string
	Queue      string
	RoutingKey string
	Port       int
}

// AnalyticsConfig selects the time-series sinks samples are appended to.
type AnalyticsConfig struct {
	Sinks []string
}

// WorkerConfig configures the asynq worker and its periodic jobs.
type WorkerConfig struct {
	Concurrency  int
	TickCron     string
	DiscoverCron string
}

// ServerConfig contains admin HTTP server configuration.
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	APIKeys         []string
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string
	File  string
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// The deployment has always exported the key list as YOUTUBE_API_KEYS.
	_ = viper.BindEnv("youtube.apikeys", "APP_YOUTUBE_APIKEYS", "YOUTUBE_API_KEYS")
	_ = viper.BindEnv("database.url", "APP_DATABASE_URL", "DATABASE_URL")
	_ = viper.BindEnv("redis.url", "APP_REDIS_URL", "REDIS_URL")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.YouTube.APIKeys = splitList(cfg.YouTube.APIKeys)
	cfg.Server.APIKeys = splitList(cfg.Server.APIKeys)
	cfg.Analytics.Sinks = splitList(cfg.Analytics.Sinks)

	return &cfg, nil
}

// Validate checks the settings every collector command depends on.
func (c *Config) Validate() error {
	if len(c.YouTube.APIKeys) == 0 {
		return errors.New("at least one YouTube API key is required (YOUTUBE_API_KEYS)")
	}
	if c.YouTube.MaxRetries < 1 {
		return fmt.Errorf("youtube.maxretries must be >= 1, got %d", c.YouTube.MaxRetries)
	}
	if c.YouTube.PageSize < 1 || c.YouTube.PageSize > 50 {
		return fmt.Errorf("youtube.pagesize must be within 1..50, got %d", c.YouTube.PageSize)
	}
	if c.Sampler.Horizon < 1 {
		return fmt.Errorf("sampler.horizon must be >= 1, got %d", c.Sampler.Horizon)
	}
	if c.Sampler.PageSize < 1 {
		return fmt.Errorf("sampler.pagesize must be >= 1, got %d", c.Sampler.PageSize)
	}
	switch c.Sampler.Fence {
	case "postgres", "redis", "none":
	default:
		return fmt.Errorf("sampler.fence must be one of postgres, redis, none, got %q", c.Sampler.Fence)
	}
	for _, sink := range c.Analytics.Sinks {
		if sink != "postgres" && sink != "rabbitmq" {
			return fmt.Errorf("unknown analytics sink %q", sink)
		}
	}
	return nil
}

// DatabaseURL returns the configured URL, or one built from the discrete fields.
func (d DatabaseConfig) DatabaseURL() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// splitList flattens comma separated entries and drops blanks.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func setDefaults() {
	// YouTube
	viper.SetDefault("youtube.apikeys", []string{})
	viper.SetDefault("youtube.maxretries", 3)
	viper.SetDefault("youtube.retrybackoff", 1*time.Second)
	viper.SetDefault("youtube.requestspersecond", 0.0)
	viper.SetDefault("youtube.pagesize", 50)
	viper.SetDefault("youtube.httptimeout", 30*time.Second)

	// Quota
	viper.SetDefault("quota.dailylimitperkey", 10000)
	viper.SetDefault("quota.thresholdpercent", 90)
	viper.SetDefault("quota.track", true)

	// Sampler
	viper.SetDefault("sampler.horizon", 31)
	viper.SetDefault("sampler.pagesize", 50)
	viper.SetDefault("sampler.sourcetag", "hourly_script")
	viper.SetDefault("sampler.fence", "postgres")

	// Discovery
	viper.SetDefault("discovery.lookback", 72*time.Hour)
	viper.SetDefault("discovery.maxresultsperchannel", 25)
	viper.SetDefault("discovery.channelpagesize", 100)
	viper.SetDefault("discovery.concurrency", 4)

	// Database
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "ytstats")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxconnections", 10)
	viper.SetDefault("database.minconnections", 2)
	viper.SetDefault("database.maxidletime", 30*time.Minute)
	viper.SetDefault("database.maxlifetime", 1*time.Hour)

	// Redis
	viper.SetDefault("redis.url", "localhost:6379")

	// RabbitMQ
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.exchange", "youtube.stats")
	viper.SetDefault("rabbitmq.queue", "youtube.stats.samples")
	viper.SetDefault("rabbitmq.routingkey", "sample.recorded")

	// Analytics
	viper.SetDefault("analytics.sinks", []string{"postgres"})

	// Worker
	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.tickcron", "0 * * * *")
	viper.SetDefault("worker.discovercron", "0 */6 * * *")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.shutdowntimeout", 30*time.Second)
	viper.SetDefault("server.apikeys", []string{})

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.file", "")
}
