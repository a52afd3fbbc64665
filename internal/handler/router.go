package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/metrics"
	"github.com/ad-tracker/youtube-stats-collector/internal/middleware"
)

// RouterConfig holds the dependencies of the admin API.
type RouterConfig struct {
	Health   *HealthHandler
	Quota    *QuotaHandler
	Triggers *TriggerHandler

	APIKeys  []string
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// NewRouter wires the admin routes. Health and metrics are public; /api/v1 requires an API key.
// A nil Quota or Triggers handler leaves its routes out.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Observe(cfg.Metrics, cfg.Logger))

	r.GET("/health/live", cfg.Health.LivenessProbe)
	r.GET("/health/ready", cfg.Health.ReadinessProbe)

	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1", middleware.NewAPIKeyAuth(cfg.APIKeys, cfg.Logger).Middleware())
	if cfg.Quota != nil {
		api.GET("/quota", cfg.Quota.GetQuota)
	}
	if cfg.Triggers != nil {
		api.POST("/ticks", cfg.Triggers.EnqueueTick)
		api.POST("/discoveries", cfg.Triggers.EnqueueDiscovery)
	}

	return r
}
