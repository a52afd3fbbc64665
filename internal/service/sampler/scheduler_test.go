package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yt "google.golang.org/api/youtube/v3"

	"github.com/ad-tracker/youtube-stats-collector/internal/analytics"
	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/repository"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/repository/repositorytest"
	"github.com/ad-tracker/youtube-stats-collector/internal/metrics"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/fetcher"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/youtube/youtubetest"
)

type fixture struct {
	store *repositorytest.Store
	svc   *youtubetest.Service
	sink  analytics.Sink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositorytest.NewStore()
	require.NoError(t, store.Channels().UpsertChannel(context.Background(), models.NewChannel("UCabc", "abc", time.Now())))
	return &fixture{
		store: store,
		svc:   youtubetest.New(),
		sink:  analytics.NewPostgresSink(store.Samples(), nil),
	}
}

// addVideo stores a video with a schedule already at currentSample and serves it upstream.
func (f *fixture) addVideo(t *testing.T, id string, uploaded time.Time, currentSample int, views uint64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.Videos().InsertVideo(ctx, models.NewVideo(id, "UCabc", uploaded))
	require.NoError(t, err)
	sc := models.NewVideoSchedule(id, uploaded)
	sc.CurrentSample = currentSample
	_, err = f.store.Schedules().InsertSchedule(ctx, sc)
	require.NoError(t, err)
	f.svc.Videos[id] = youtubetest.Video(id, "UCabc", uploaded, views)
}

func (f *fixture) scheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	fetch := fetcher.New(youtubetest.NewPool(t, f.svc), nil)
	opts = append([]Option{WithRunID(func() string { return "run-1" })}, opts...)
	return New(f.store.Schedules(), f.store.Videos(), fetch, f.sink, opts...)
}

func TestRunTick_SamplesOnlyDueVideosOfCurrentBin(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 30, 0, 0, time.UTC), 0, 100)
	f.addVideo(t, "v2", time.Date(2024, 2, 1, 5, 10, 0, 0, time.UTC), models.DefaultSampleHorizon, 200)
	f.addVideo(t, "v3", time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), 0, 300)

	now := time.Date(2024, 3, 2, 5, 7, 0, 0, time.UTC)
	summary, err := f.scheduler(t).RunTick(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 5, summary.Bin)
	assert.Equal(t, 1, summary.Eligible)
	assert.Equal(t, 1, summary.VideosProcessed)
	assert.Equal(t, 1, summary.SamplesWritten)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.CallsUsed)
	assert.False(t, summary.Fenced)

	rows := f.store.SampleRows("v1")
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].DayIndex)
	assert.Equal(t, int64(100), rows[0].ViewCount)
	assert.Equal(t, now, rows[0].RecordedAt)
	assert.Equal(t, DefaultSourceTag, rows[0].SourceTag)
	assert.Equal(t, db.SampleKey("v1", 0), rows[0].SampleKey)

	sc, _ := f.store.Schedule("v1")
	assert.Equal(t, 1, sc.CurrentSample)
	v, _ := f.store.Video("v1")
	assert.Equal(t, int64(100), v.Counts.ViewCount)

	assert.Empty(t, f.store.SampleRows("v2"))
	assert.Empty(t, f.store.SampleRows("v3"))
	sc, _ = f.store.Schedule("v3")
	assert.Equal(t, 0, sc.CurrentSample)

	reqs := f.svc.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"v1"}, reqs[0].IDs)
	assert.Equal(t, youtube.VideoStatsParts, reqs[0].Parts)
}

func TestRunTick_StopsAtHorizon(t *testing.T) {
	f := newFixture(t)
	uploaded := time.Date(2024, 3, 1, 5, 30, 0, 0, time.UTC)
	f.addVideo(t, "v1", uploaded, 0, 10)

	s := f.scheduler(t, WithFence(NewPostgresFence(f.store.BinTicks())))
	day := time.Date(2024, 3, 2, 5, 1, 0, 0, time.UTC)
	for i := 0; i < 35; i++ {
		summary, err := s.RunTick(context.Background(), day.AddDate(0, 0, i))
		require.NoError(t, err)
		if i < models.DefaultSampleHorizon {
			assert.Equal(t, 1, summary.SamplesWritten, "tick %d", i)
		} else {
			assert.Equal(t, 0, summary.Eligible, "tick %d", i)
		}
	}

	rows := f.store.SampleRows("v1")
	require.Len(t, rows, models.DefaultSampleHorizon)
	for i, row := range rows {
		assert.Equal(t, i, row.DayIndex)
	}
	sc, _ := f.store.Schedule("v1")
	assert.Equal(t, models.DefaultSampleHorizon, sc.CurrentSample)
	assert.Equal(t, models.DefaultSampleHorizon, f.svc.Count("videos"))
}

func TestRunTick_CustomHorizon(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 30, 0, 0, time.UTC), 2, 10)

	summary, err := f.scheduler(t, WithHorizon(3)).RunTick(context.Background(), time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SamplesWritten)

	summary, err = f.scheduler(t, WithHorizon(3)).RunTick(context.Background(), time.Date(2024, 3, 5, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Eligible)
}

func TestRunTick_FailureOfOneVideoDoesNotStopTick(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 0, 1)
	f.addVideo(t, "v2", time.Date(2024, 3, 1, 5, 20, 0, 0, time.UTC), 0, 2)
	f.addVideo(t, "v3", time.Date(2024, 3, 1, 5, 30, 0, 0, time.UTC), 0, 3)

	f.store.Fail = func(op, id string) error {
		if op == "update_counts" && id == "v2" {
			return errors.New("disk full")
		}
		return nil
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	summary, err := f.scheduler(t, WithMetrics(m)).RunTick(context.Background(), time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Eligible)
	assert.Equal(t, 3, summary.VideosProcessed)
	assert.Equal(t, 2, summary.SamplesWritten)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, f.store.SampleRows("v1"), 1)
	assert.Empty(t, f.store.SampleRows("v2"))
	assert.Len(t, f.store.SampleRows("v3"), 1)

	sc, _ := f.store.Schedule("v2")
	assert.Equal(t, 0, sc.CurrentSample)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SamplesWritten))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SampleFailures))
}

func TestRunTick_NoEligibleVideos(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v3", time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), 0, 1)

	summary, err := f.scheduler(t).RunTick(context.Background(), time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Eligible)
	assert.Equal(t, 0, summary.CallsUsed)
	assert.Empty(t, f.svc.Requests())
}

func TestRunTick_PagesThroughDueRows(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		f.addVideo(t, string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute), 0, uint64(i))
	}

	summary, err := f.scheduler(t, WithPageSize(3)).RunTick(context.Background(), time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Eligible)
	assert.Equal(t, 7, summary.SamplesWritten)
	for i := 0; i < 7; i++ {
		sc, _ := f.store.Schedule(string(rune('a' + i)))
		assert.Equal(t, 1, sc.CurrentSample)
	}
}

func TestRunTick_MissingUpstreamVideo(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 0, 1)
	f.addVideo(t, "gone", time.Date(2024, 3, 1, 5, 20, 0, 0, time.UTC), 0, 1)
	delete(f.svc.Videos, "gone")

	summary, err := f.scheduler(t).RunTick(context.Background(), time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Eligible)
	assert.Equal(t, 1, summary.SamplesWritten)
	assert.Equal(t, 1, summary.Missing)

	sc, _ := f.store.Schedule("gone")
	assert.Equal(t, 0, sc.CurrentSample)
}

func TestRunTick_IgnoresUnrequestedItems(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 0, 1)

	fetch := stubFetcher{batch: &fetcher.VideoBatch{
		Items: []*yt.Video{
			youtubetest.Video("intruder", "UCabc", time.Now(), 9),
			youtubetest.Video("v1", "UCabc", time.Now(), 5),
			youtubetest.Video("v1", "UCabc", time.Now(), 5),
		},
		CallsUsed: 1,
	}}
	s := New(f.store.Schedules(), f.store.Videos(), fetch, f.sink)

	summary, err := s.RunTick(context.Background(), time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.VideosProcessed)
	assert.Equal(t, 1, summary.SamplesWritten)
	assert.Len(t, f.store.SampleRows("v1"), 1)
}

func TestRunTick_FetchErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 0, 1)
	f.svc.Err = func(youtubetest.Request) error { return errors.New("quotaExceeded") }

	summary, err := f.scheduler(t).RunTick(context.Background(), time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, youtube.ErrQuotaExhausted)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Eligible)
	assert.Equal(t, 0, summary.SamplesWritten)

	sc, _ := f.store.Schedule("v1")
	assert.Equal(t, 0, sc.CurrentSample)
	assert.Empty(t, f.store.SampleRows("v1"))
}

func TestRunTick_ListErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.store.Fail = func(op, _ string) error {
		if op == "list_due" {
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := f.scheduler(t).RunTick(context.Background(), time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list schedule for bin 5")
}

func TestRunTick_ConcurrentAdvanceIsConflict(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 0, 1)

	fetch := fetcher.New(youtubetest.NewPool(t, f.svc), nil)
	schedules := racingSchedules{ScheduleRepository: f.store.Schedules()}
	s := New(schedules, f.store.Videos(), fetch, f.sink)

	summary, err := s.RunTick(context.Background(), time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.SamplesWritten)

	// The concurrent writer owns day 0; this tick must not write a second row for it.
	assert.Empty(t, f.store.SampleRows("v1"))
	sc, _ := f.store.Schedule("v1")
	assert.Equal(t, 1, sc.CurrentSample)
}

func TestSampleVideo_Errors(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 3, 1)
	s := f.scheduler(t, WithHorizon(3))

	err := s.sampleVideo(context.Background(), youtubetest.Video("v1", "UCabc", time.Now(), 1), time.Now())
	assert.ErrorIs(t, err, ErrHorizonReached)

	err = s.sampleVideo(context.Background(), &yt.Video{}, time.Now())
	assert.ErrorIs(t, err, youtube.ErrMissingID)
}

func TestRunTick_Fence(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 0, 1)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := f.scheduler(t, WithFence(NewPostgresFence(f.store.BinTicks())), WithMetrics(m))
	now := time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC)

	first, err := s.RunTick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, first.SamplesWritten)

	second, err := s.RunTick(context.Background(), now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, second.Fenced)
	assert.Equal(t, 0, second.SamplesWritten)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TicksFenced))

	forced, err := s.RunTickWithOptions(context.Background(), now.Add(40*time.Minute), TickOptions{Force: true})
	require.NoError(t, err)
	assert.False(t, forced.Fenced)
	assert.Equal(t, 1, forced.SamplesWritten)

	assert.Len(t, f.store.SampleRows("v1"), 2)
}

func TestRunTick_FailedTickReleasesFence(t *testing.T) {
	now := time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		fail func(f *fixture)
		heal func(f *fixture)
	}{
		{
			name: "due list fails",
			fail: func(f *fixture) {
				f.store.Fail = func(op, _ string) error {
					if op == "list_due" {
						return errors.New("db blip")
					}
					return nil
				}
			},
			heal: func(f *fixture) { f.store.Fail = nil },
		},
		{
			name: "stats fetch fails",
			fail: func(f *fixture) { f.svc.Err = func(youtubetest.Request) error { return errors.New("backendError") } },
			heal: func(f *fixture) { f.svc.Err = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 0, 7)
			s := f.scheduler(t, WithFence(NewPostgresFence(f.store.BinTicks())))

			tt.fail(f)
			_, err := s.RunTick(context.Background(), now)
			require.Error(t, err)

			tt.heal(f)
			retry, err := s.RunTick(context.Background(), now.Add(time.Minute))
			require.NoError(t, err)
			assert.False(t, retry.Fenced)
			assert.Equal(t, 1, retry.SamplesWritten)

			sc, _ := f.store.Schedule("v1")
			assert.Equal(t, 1, sc.CurrentSample)

			again, err := s.RunTick(context.Background(), now.Add(2*time.Minute))
			require.NoError(t, err)
			assert.True(t, again.Fenced, "a successful tick keeps its claim")
		})
	}
}

func TestRunTick_ReleaseFailureKeepsTickError(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 0, 7)
	f.store.Fail = func(op, _ string) error {
		switch op {
		case "list_due":
			return errors.New("db blip")
		case "release_tick":
			return errors.New("db gone")
		}
		return nil
	}
	s := f.scheduler(t, WithFence(NewPostgresFence(f.store.BinTicks())))
	now := time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC)

	_, err := s.RunTick(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list schedule for bin 5")

	f.store.Fail = nil
	retry, err := s.RunTick(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, retry.Fenced)
}

func TestRunTick_ForcedFailureLeavesClaim(t *testing.T) {
	f := newFixture(t)
	f.addVideo(t, "v1", time.Date(2024, 3, 1, 5, 10, 0, 0, time.UTC), 0, 7)
	s := f.scheduler(t, WithFence(NewPostgresFence(f.store.BinTicks())))
	now := time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC)

	first, err := s.RunTick(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, first.SamplesWritten)

	f.svc.Err = func(youtubetest.Request) error { return errors.New("backendError") }
	_, err = s.RunTickWithOptions(context.Background(), now.Add(time.Minute), TickOptions{Force: true})
	require.Error(t, err)

	f.svc.Err = nil
	later, err := s.RunTick(context.Background(), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, later.Fenced)
	assert.Len(t, f.store.SampleRows("v1"), 1)
}

func TestRunTick_FenceError(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(t, WithFence(failingFence{}))
	_, err := s.RunTick(context.Background(), time.Now())
	assert.ErrorContains(t, err, "redis down")
}

type stubFetcher struct {
	batch *fetcher.VideoBatch
	err   error
}

func (s stubFetcher) Videos(context.Context, []string, ...string) (*fetcher.VideoBatch, error) {
	return s.batch, s.err
}

// racingSchedules advances the counter on behalf of another writer right
// before the scheduler tries to.
type racingSchedules struct {
	repository.ScheduleRepository
}

func (r racingSchedules) IncrementSample(ctx context.Context, id string, expected, horizon int) (bool, error) {
	if _, err := r.ScheduleRepository.IncrementSample(ctx, id, expected, horizon); err != nil {
		return false, err
	}
	return r.ScheduleRepository.IncrementSample(ctx, id, expected, horizon)
}

type failingFence struct{}

func (failingFence) Acquire(context.Context, int, time.Time) error {
	return errors.New("redis down")
}

func (failingFence) Release(context.Context, int, time.Time) error { return nil }
