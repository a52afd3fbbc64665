package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
)

type mockStatSampleRepository struct {
	mock.Mock
}

func (m *mockStatSampleRepository) Append(ctx context.Context, samples ...models.StatSample) (int, error) {
	args := m.Called(ctx, samples)
	return args.Int(0), args.Error(1)
}

func (m *mockStatSampleRepository) ListByVideo(ctx context.Context, videoID string) ([]models.StatSample, error) {
	args := m.Called(ctx, videoID)
	return args.Get(0).([]models.StatSample), args.Error(1)
}

type recordingSink struct {
	got []models.StatSample
	err error
}

func (r *recordingSink) Append(_ context.Context, samples ...models.StatSample) error {
	r.got = append(r.got, samples...)
	return r.err
}

func sample(videoID string, day int) models.StatSample {
	return models.NewStatSample(videoID, day, time.Now(), models.VideoCounts{ViewCount: 1}, "hourly_script", db.SampleKey(videoID, day))
}

func TestPostgresSink(t *testing.T) {
	repo := &mockStatSampleRepository{}
	samples := []models.StatSample{sample("a", 0), sample("b", 0)}
	repo.On("Append", mock.Anything, samples).Return(1, nil).Once()

	sink := NewPostgresSink(repo, nil)
	require.NoError(t, sink.Append(context.Background(), samples...))

	repo.On("Append", mock.Anything, mock.Anything).Return(0, errors.New("db down")).Once()
	err := sink.Append(context.Background(), sample("c", 0))
	assert.ErrorContains(t, err, "postgres sink")
	repo.AssertExpectations(t)
}

func TestFanOut(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker down")}
	other := &recordingSink{}

	err := FanOut{ok, failing, other}.Append(context.Background(), sample("a", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, failing.err)

	assert.Len(t, ok.got, 1)
	assert.Len(t, failing.got, 1)
	assert.Len(t, other.got, 1, "later sinks still receive the sample")

	assert.NoError(t, FanOut{ok}.Append(context.Background()))
	assert.Len(t, ok.got, 1)
}
