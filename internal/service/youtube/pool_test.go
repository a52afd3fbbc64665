package youtube

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/youtube-stats-collector/internal/metrics"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

func newTestPool(t *testing.T, n int, opts ...Option) (*Pool, []*fakeService, *sleepRecorder) {
	t.Helper()
	creds := make([]Credential, n)
	services := make([]Service, n)
	fakes := make([]*fakeService, n)
	for i := range creds {
		creds[i] = Credential{Index: i, Key: "key"}
		fakes[i] = &fakeService{}
		services[i] = fakes[i]
	}
	rec := &sleepRecorder{}
	pool, err := NewPool(creds, services, append([]Option{WithClock(rec.sleep)}, opts...)...)
	require.NoError(t, err)
	return pool, fakes, rec
}

// indexedCall records the service each attempt used.
func indexedCall(fakes []*fakeService, used *[]int, fail func(attempt int) error) Call[string] {
	attempt := 0
	return funcCall[string]{op: "test.op", fn: func(_ context.Context, svc Service) (Result[string], error) {
		for i, f := range fakes {
			if f == svc {
				*used = append(*used, i)
			}
		}
		attempt++
		if err := fail(attempt); err != nil {
			return Result[string]{}, err
		}
		return Result[string]{Payload: "ok", Cost: 1}, nil
	}}
}

func TestNewPool(t *testing.T) {
	_, err := NewPool(nil, nil)
	assert.Error(t, err)

	_, err = NewPool([]Credential{{Index: 0}}, nil)
	assert.Error(t, err)

	_, err = NewPoolFromKeys(context.Background(), nil)
	assert.Error(t, err)
}

func TestExecute_Success(t *testing.T) {
	pool, fakes, rec := newTestPool(t, 3)
	var used []int

	res, err := Execute(context.Background(), pool, indexedCall(fakes, &used, func(int) error { return nil }))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Payload)
	assert.Equal(t, 1, res.Cost)
	assert.Equal(t, []int{0}, used)
	assert.Empty(t, rec.sleeps)

	stats := pool.Stats()
	assert.Equal(t, 0, stats.ActiveIndex)
	assert.Equal(t, 1, stats.TotalCost)
	assert.Equal(t, []int{1, 0, 0}, stats.CostByCredential)
	assert.Equal(t, 1, stats.Attempts)
	assert.Zero(t, stats.Failures)
}

func TestExecute_RotatesAndRecovers(t *testing.T) {
	pool, fakes, rec := newTestPool(t, 3)
	var used []int

	call := indexedCall(fakes, &used, func(attempt int) error {
		if attempt == 1 {
			return errors.New("quotaExceeded")
		}
		return nil
	})

	_, err := Execute(context.Background(), pool, call)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, used)
	assert.Equal(t, []time.Duration{DefaultBackoff}, rec.sleeps)

	stats := pool.Stats()
	assert.Equal(t, 1, stats.ActiveIndex, "next call keeps using the credential that worked")
	assert.Equal(t, []int{0, 1, 0}, stats.CostByCredential)
	assert.Equal(t, 1, stats.Rotations)
}

func TestExecute_ExhaustsRetries(t *testing.T) {
	tests := []struct {
		name       string
		keys       int
		maxRetries int
		wantUsed   []int
		wantIndex  int
	}{
		{name: "three keys default retries", keys: 3, maxRetries: 3, wantUsed: []int{0, 1, 2}, wantIndex: 0},
		{name: "more retries than keys wraps around", keys: 2, maxRetries: 5, wantUsed: []int{0, 1, 0, 1, 0}, wantIndex: 1},
		{name: "fewer retries than keys", keys: 4, maxRetries: 2, wantUsed: []int{0, 1}, wantIndex: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, fakes, rec := newTestPool(t, tt.keys, WithMaxRetries(tt.maxRetries))
			var used []int
			boom := errors.New("boom")

			_, err := Execute(context.Background(), pool, indexedCall(fakes, &used, func(int) error { return boom }))

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrQuotaExhausted)
			assert.ErrorIs(t, err, boom)
			assert.Contains(t, err.Error(), "all API keys failed or quota exceeded")

			var qe *QuotaExhaustedError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tt.maxRetries, qe.Attempts)

			assert.Equal(t, tt.wantUsed, used)
			assert.Len(t, rec.sleeps, tt.maxRetries-1)
			assert.Equal(t, tt.wantIndex, pool.ActiveIndex())
			for i := 1; i < len(used); i++ {
				assert.NotEqual(t, used[i-1], used[i], "every failed attempt rotates")
			}
			assert.Zero(t, pool.TotalCost())
		})
	}
}

// With as many attempts as keys, a fully failed call rotates back to the key it
// started on, so the next call tries that key first again.
func TestExecute_ExhaustionEndsOnStartingCredential(t *testing.T) {
	pool, fakes, _ := newTestPool(t, 3, WithMaxRetries(3))
	var used []int

	// Move the active credential to 1 first.
	_, err := Execute(context.Background(), pool, indexedCall(fakes, &used, func(attempt int) error {
		if attempt == 1 {
			return errors.New("quotaExceeded")
		}
		return nil
	}))
	require.NoError(t, err)
	require.Equal(t, 1, pool.ActiveIndex())

	for round := 0; round < 2; round++ {
		used = nil
		_, err = Execute(context.Background(), pool, indexedCall(fakes, &used, func(int) error {
			return errors.New("quotaExceeded")
		}))
		require.ErrorIs(t, err, ErrQuotaExhausted)
		assert.Equal(t, []int{1, 2, 0}, used, "round %d", round)
		assert.Equal(t, 1, pool.ActiveIndex(), "round %d", round)
	}

	stats := pool.Stats()
	assert.Equal(t, 7, stats.Rotations)
	assert.Equal(t, 7, stats.Failures)
}

func TestExecute_PermanentErrorIsNotRetried(t *testing.T) {
	pool, fakes, rec := newTestPool(t, 3)
	var used []int
	notFound := errors.New("not found")

	_, err := Execute(context.Background(), pool, indexedCall(fakes, &used, func(int) error { return Permanent(notFound) }))

	require.Error(t, err)
	assert.ErrorIs(t, err, notFound)
	assert.NotErrorIs(t, err, ErrQuotaExhausted)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, []int{0}, used)
	assert.Empty(t, rec.sleeps)
	assert.Equal(t, 0, pool.ActiveIndex())
}

func TestExecute_ContextCancelled(t *testing.T) {
	pool, fakes, _ := newTestPool(t, 2)
	var used []int

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, pool, indexedCall(fakes, &used, func(int) error { return nil }))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, used)

	t.Run("cancelled during backoff", func(t *testing.T) {
		creds := []Credential{{Index: 0}, {Index: 1}}
		services := []Service{&fakeService{}, &fakeService{}}
		ctx, cancel := context.WithCancel(context.Background())
		pool, err := NewPool(creds, services, WithClock(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))
		require.NoError(t, err)

		calls := 0
		_, err = Execute(ctx, pool, funcCall[int]{op: "op", fn: func(context.Context, Service) (Result[int], error) {
			calls++
			return Result[int]{}, errors.New("transient")
		}})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestExecute_SerialisesConcurrentCalls(t *testing.T) {
	pool, _, _ := newTestPool(t, 2)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	call := funcCall[int]{op: "op", fn: func(context.Context, Service) (Result[int], error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return Result[int]{Payload: 1, Cost: 2}, nil
	}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Execute(context.Background(), pool, call)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
	assert.Equal(t, 40, pool.TotalCost())
	assert.Equal(t, 20, pool.Stats().Attempts)
}

type stubTracker struct {
	allowErr error
	recorded []string
	costs    int
}

func (s *stubTracker) Allow(context.Context, int) error { return s.allowErr }

func (s *stubTracker) Record(_ context.Context, cost int, op string) error {
	s.recorded = append(s.recorded, op)
	s.costs += cost
	return nil
}

func TestExecute_UsageTracker(t *testing.T) {
	t.Run("records successful spend", func(t *testing.T) {
		tracker := &stubTracker{}
		pool, fakes, _ := newTestPool(t, 1, WithUsageTracker(tracker))
		var used []int

		_, err := Execute(context.Background(), pool, indexedCall(fakes, &used, func(int) error { return nil }))
		require.NoError(t, err)
		assert.Equal(t, []string{"test.op"}, tracker.recorded)
		assert.Equal(t, 1, tracker.costs)
	})

	t.Run("denial is terminal", func(t *testing.T) {
		budget := errors.New("budget reached")
		tracker := &stubTracker{allowErr: budget}
		pool, fakes, _ := newTestPool(t, 2, WithUsageTracker(tracker))
		var used []int

		_, err := Execute(context.Background(), pool, indexedCall(fakes, &used, func(int) error { return nil }))
		assert.ErrorIs(t, err, budget)
		assert.Empty(t, used)
		assert.Equal(t, 0, pool.ActiveIndex())
	})
}

func TestExecute_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	pool, fakes, _ := newTestPool(t, 2, WithMetrics(m))
	var used []int

	_, err := Execute(context.Background(), pool, indexedCall(fakes, &used, func(attempt int) error {
		if attempt == 1 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.APICalls.WithLabelValues("test.op", metrics.OutcomeRetryable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APICalls.WithLabelValues("test.op", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CredentialRotations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaUnits.WithLabelValues("test.op")))
}

func TestExecute_RateLimit(t *testing.T) {
	pool, fakes, _ := newTestPool(t, 1, WithRateLimit(1000))
	var used []int

	for i := 0; i < 3; i++ {
		_, err := Execute(context.Background(), pool, indexedCall(fakes, &used, func(int) error { return nil }))
		require.NoError(t, err)
	}
	assert.Len(t, used, 3)
}

func TestCredentialStringHidesKey(t *testing.T) {
	c := Credential{Index: 2, Key: "secret"}
	assert.Equal(t, "credential#2", c.String())
}
