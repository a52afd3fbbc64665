package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ad-tracker/youtube-stats-collector/internal/metrics"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

const (
	// DefaultMaxRetries is the number of attempts made for one call.
	DefaultMaxRetries = 3

	// DefaultBackoff is the fixed pause after a failed attempt.
	DefaultBackoff = time.Second
)

// Credential is one API key of the pool, identified by its position.
type Credential struct {
	Index int
	Key   string
}

// String never prints the key itself.
func (c Credential) String() string {
	return fmt.Sprintf("credential#%d", c.Index)
}

// UsageTracker enforces and records a quota budget outside the pool.
type UsageTracker interface {
	// Allow returns an error when cost more units must not be spent.
	Allow(ctx context.Context, cost int) error
	// Record stores units spent by a successful call.
	Record(ctx context.Context, cost int, operation string) error
}

// Stats is a snapshot of the pool counters.
type Stats struct {
	ActiveIndex      int   `json:"active_index"`
	Credentials      int   `json:"credentials"`
	TotalCost        int   `json:"total_cost"`
	CostByCredential []int `json:"cost_by_credential"`
	Attempts         int   `json:"attempts"`
	Failures         int   `json:"failures"`
	Rotations        int   `json:"rotations"`
}

// Pool owns a fixed ordered list of credentials and executes calls through the active one.
// Executions are serialised: at most one upstream call is in flight per pool.
type Pool struct {
	exec sync.Mutex

	mu        sync.Mutex
	creds     []Credential
	services  []Service
	current   int
	totalCost int
	costs     []int
	attempts  int
	failures  int
	rotations int

	maxRetries int
	backoff    time.Duration
	sleep      func(context.Context, time.Duration) error
	limiter    *rate.Limiter
	tracker    UsageTracker
	metrics    *metrics.Collector
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxRetries sets the number of attempts per call. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(p *Pool) {
		if n >= 1 {
			p.maxRetries = n
		}
	}
}

// WithBackoff sets the pause between attempts.
func WithBackoff(d time.Duration) Option {
	return func(p *Pool) {
		if d >= 0 {
			p.backoff = d
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = logger.OrNop(l) }
}

// WithRateLimit limits attempts to rps per second across the pool. Zero disables it.
func WithRateLimit(rps float64) Option {
	return func(p *Pool) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithUsageTracker consults tracker before each attempt and records successful spend.
func WithUsageTracker(tracker UsageTracker) Option {
	return func(p *Pool) { p.tracker = tracker }
}

// WithMetrics reports call outcomes to m.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithHTTPClient sets the client NewPoolFromKeys builds services with.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pool) { p.httpClient = c }
}

// WithClock replaces the backoff sleep, mainly for tests.
func WithClock(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pool) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// NewPool creates a pool over creds, where services[i] performs calls for creds[i].
func NewPool(creds []Credential, services []Service, opts ...Option) (*Pool, error) {
	if len(creds) == 0 {
		return nil, errors.New("at least one credential is required")
	}
	if len(creds) != len(services) {
		return nil, fmt.Errorf("got %d credentials but %d services", len(creds), len(services))
	}
	for i, s := range services {
		if s == nil {
			return nil, fmt.Errorf("service for credential %d is nil", i)
		}
	}

	p := &Pool{
		creds:      append([]Credential(nil), creds...),
		services:   append([]Service(nil), services...),
		costs:      make([]int, len(creds)),
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		sleep:      sleepContext,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// NewPoolFromKeys builds one APIService per key, in order.
func NewPoolFromKeys(ctx context.Context, keys []string, opts ...Option) (*Pool, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one API key is required")
	}

	probe := &Pool{}
	for _, opt := range opts {
		opt(probe)
	}

	creds := make([]Credential, 0, len(keys))
	services := make([]Service, 0, len(keys))
	for i, key := range keys {
		svc, err := NewAPIService(ctx, key, probe.httpClient)
		if err != nil {
			return nil, fmt.Errorf("credential %d: %w", i, err)
		}
		creds = append(creds, Credential{Index: i, Key: key})
		services = append(services, svc)
	}

	return NewPool(creds, services, opts...)
}

// Size returns the number of credentials.
func (p *Pool) Size() int {
	return len(p.creds)
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		ActiveIndex:      p.current,
		Credentials:      len(p.creds),
		TotalCost:        p.totalCost,
		CostByCredential: append([]int(nil), p.costs...),
		Attempts:         p.attempts,
		Failures:         p.failures,
		Rotations:        p.rotations,
	}
}

// ActiveIndex returns the index of the credential the next call will use.
func (p *Pool) ActiveIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// TotalCost returns the quota units spent by successful calls.
func (p *Pool) TotalCost() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalCost
}

func (p *Pool) active() (Credential, Service) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	return p.creds[p.current], p.services[p.current]
}

func (p *Pool) succeeded(index, cost int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalCost += cost
	p.costs[index] += cost
}

// failed records a failed attempt and, for retryable failures, advances to the next credential.
func (p *Pool) failed(rotate bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	if rotate {
		p.current = (p.current + 1) % len(p.creds)
		p.rotations++
	}
	return p.current
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeTerminal
)

func classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case IsPermanent(err), ctx.Err() != nil:
		return outcomeTerminal
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeTerminal
	default:
		return outcomeRetryable
	}
}

// Execute performs call through the pool's active credential.
//
// A retryable failure rotates to the next credential, waits the backoff and
// tries again, up to the configured number of attempts. After the last failed
// attempt a *QuotaExhaustedError is returned. Permanent errors, context
// cancellation and usage-budget denials end the call immediately.
func Execute[T any](ctx context.Context, p *Pool, call Call[T]) (Result[T], error) {
	var zero Result[T]
	op := call.Operation()

	p.exec.Lock()
	defer p.exec.Unlock()

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}
		if p.tracker != nil {
			if err := p.tracker.Allow(ctx, UnitCost); err != nil {
				p.metrics.ObserveCall(op, metrics.OutcomeTerminal)
				return zero, fmt.Errorf("%s: %w", op, err)
			}
		}

		cred, svc := p.active()
		res, err := call.Perform(ctx, svc)

		switch classify(ctx, err) {
		case outcomeSuccess:
			if res.Cost < UnitCost {
				res.Cost = UnitCost
			}
			p.succeeded(cred.Index, res.Cost)
			p.metrics.ObserveCall(op, metrics.OutcomeSuccess)
			p.metrics.AddQuota(op, res.Cost)
			if p.tracker != nil {
				if err := p.tracker.Record(ctx, res.Cost, op); err != nil {
					p.logger.Warn("failed to record quota usage",
						zap.String("operation", op),
						zap.Int("cost", res.Cost),
						zap.Error(err))
				}
			}
			return res, nil

		case outcomeTerminal:
			p.failed(false)
			p.metrics.ObserveCall(op, metrics.OutcomeTerminal)
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				return zero, fmt.Errorf("%s: %w", op, ctxErr)
			}
			return zero, fmt.Errorf("%s: %w", op, err)

		case outcomeRetryable:
			lastErr = err
			next := p.failed(true)
			p.metrics.ObserveCall(op, metrics.OutcomeRetryable)
			p.metrics.Rotated()
			p.logger.Warn("API call failed, rotating credential",
				zap.String("operation", op),
				zap.Int("credential_index", cred.Index),
				zap.Int("next_credential_index", next),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.maxRetries),
				zap.Error(err))

			if attempt < p.maxRetries {
				if err := p.sleep(ctx, p.backoff); err != nil {
					return zero, err
				}
			}
		}
	}

	p.metrics.ObserveCall(op, metrics.OutcomeExhausted)
	p.logger.Error("all API keys failed or quota exceeded",
		zap.String("operation", op),
		zap.Int("attempts", p.maxRetries),
		zap.Error(lastErr))

	return zero, &QuotaExhaustedError{Operation: op, Attempts: p.maxRetries, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
