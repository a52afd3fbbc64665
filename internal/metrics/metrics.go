// Package metrics holds the Prometheus collectors of the stats collector.
package metrics

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for collector_api_calls_total.
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable"
	OutcomeTerminal  = "terminal"
	OutcomeExhausted = "exhausted"
)

// Collector bundles every collector metric. A nil *Collector is a valid no-op.
type Collector struct {
	APICalls            *prometheus.CounterVec
	QuotaUnits          *prometheus.CounterVec
	CredentialRotations prometheus.Counter
	SamplesWritten      prometheus.Counter
	SampleFailures      prometheus.Counter
	TickDuration        prometheus.Histogram
	TicksFenced         prometheus.Counter
	ChannelsDeactivated prometheus.Counter
	VideosDiscovered    prometheus.Counter
	RequestDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		APICalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_api_calls_total",
				Help: "Upstream call attempts, by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		QuotaUnits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_quota_units_total",
				Help: "Quota units consumed by successful calls, by operation.",
			},
			[]string{"operation"},
		),
		CredentialRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_credential_rotations_total",
			Help: "Times the active API key was rotated after a failure.",
		}),
		SamplesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_samples_written_total",
			Help: "Statistics samples appended to the time series.",
		}),
		SampleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_sample_failures_total",
			Help: "Videos skipped within a tick because sampling failed.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_tick_duration_seconds",
			Help:    "Duration of sampling ticks.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		TicksFenced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_ticks_fenced_total",
			Help: "Ticks skipped because the bin was already sampled this hour.",
		}),
		ChannelsDeactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_channels_deactivated_total",
			Help: "Channels marked inactive after a failed crawl.",
		}),
		VideosDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_videos_discovered_total",
			Help: "New videos inserted by discovery.",
		}),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_http_request_duration_seconds",
				Help:    "Admin HTTP request duration in seconds, by route, method and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			c.APICalls,
			c.QuotaUnits,
			c.CredentialRotations,
			c.SamplesWritten,
			c.SampleFailures,
			c.TickDuration,
			c.TicksFenced,
			c.ChannelsDeactivated,
			c.VideosDiscovered,
			c.RequestDuration,
		)
	}

	return c
}

// RegisterPoolStats exposes live pgxpool connection gauges.
func RegisterPoolStats(reg prometheus.Registerer, pool *pgxpool.Pool) {
	if reg == nil || pool == nil {
		return
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "collector_db_connections_active",
			Help: "Number of acquired database connections.",
		}, func() float64 { return float64(pool.Stat().AcquiredConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "collector_db_connections_idle",
			Help: "Number of idle database connections.",
		}, func() float64 { return float64(pool.Stat().IdleConns()) }),
	)
}

func (c *Collector) ObserveCall(operation, outcome string) {
	if c == nil {
		return
	}
	c.APICalls.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) AddQuota(operation string, cost int) {
	if c == nil {
		return
	}
	c.QuotaUnits.WithLabelValues(operation).Add(float64(cost))
}

func (c *Collector) Rotated() {
	if c == nil {
		return
	}
	c.CredentialRotations.Inc()
}

func (c *Collector) SampleWritten(n int) {
	if c == nil {
		return
	}
	c.SamplesWritten.Add(float64(n))
}

func (c *Collector) SampleFailed() {
	if c == nil {
		return
	}
	c.SampleFailures.Inc()
}

func (c *Collector) ObserveTick(d time.Duration, fenced bool) {
	if c == nil {
		return
	}
	if fenced {
		c.TicksFenced.Inc()
		return
	}
	c.TickDuration.Observe(d.Seconds())
}

func (c *Collector) ChannelDeactivated() {
	if c == nil {
		return
	}
	c.ChannelsDeactivated.Inc()
}

func (c *Collector) VideoDiscovered(n int) {
	if c == nil {
		return
	}
	c.VideosDiscovered.Add(float64(n))
}

func (c *Collector) ObserveRequest(route, method, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.RequestDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
}
