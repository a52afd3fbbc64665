// Package repositorytest provides in-memory repositories with the same
// semantics as the Postgres ones, for service tests.
package repositorytest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ad-tracker/youtube-stats-collector/internal/db"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/models"
	"github.com/ad-tracker/youtube-stats-collector/internal/db/repository"
)

// Store holds every table. Its methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	channels  map[string]*models.Channel
	videos    map[string]*models.Video
	schedules map[string]*models.VideoSchedule
	samples   map[string][]models.StatSample
	ticks     map[int]time.Time
	prevTicks map[int]time.Time

	// Fail, when set, is called with an operation name and may inject an error.
	Fail func(op, id string) error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		channels:  map[string]*models.Channel{},
		videos:    map[string]*models.Video{},
		schedules: map[string]*models.VideoSchedule{},
		samples:   map[string][]models.StatSample{},
		ticks:     map[int]time.Time{},
		prevTicks: map[int]time.Time{},
	}
}

func (s *Store) fail(op, id string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op, id)
}

// Channels returns a ChannelRepository view.
func (s *Store) Channels() repository.ChannelRepository { return channelRepo{s} }

// Videos returns a VideoRepository view.
func (s *Store) Videos() repository.VideoRepository { return videoRepo{s} }

// Schedules returns a ScheduleRepository view.
func (s *Store) Schedules() repository.ScheduleRepository { return scheduleRepo{s} }

// Samples returns a StatSampleRepository view.
func (s *Store) Samples() repository.StatSampleRepository { return sampleRepo{s} }

// BinTicks returns a BinTickRepository view.
func (s *Store) BinTicks() repository.BinTickRepository { return binTickRepo{s} }

// Schedule returns a copy of a schedule row.
func (s *Store) Schedule(videoID string) (models.VideoSchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.schedules[videoID]
	if !ok {
		return models.VideoSchedule{}, false
	}
	return *row, true
}

// Video returns a copy of a video row.
func (s *Store) Video(videoID string) (models.Video, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.videos[videoID]
	if !ok {
		return models.Video{}, false
	}
	return *row, true
}

// Channel returns a copy of a channel row.
func (s *Store) Channel(channelID string) (models.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.channels[channelID]
	if !ok {
		return models.Channel{}, false
	}
	return *row, true
}

// SampleRows returns the samples of a video in day order.
func (s *Store) SampleRows(videoID string) []models.StatSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StatSample(nil), s.samples[videoID]...)
}

// Counts returns the number of rows in videos and video_schedule.
func (s *Store) Counts() (videos, schedules int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.videos), len(s.schedules)
}

type channelRepo struct{ s *Store }

func (r channelRepo) UpsertChannel(_ context.Context, c *models.Channel) error {
	if err := r.s.fail("upsert_channel", c.ChannelID); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	if existing, ok := r.s.channels[c.ChannelID]; ok {
		c.IsActive = existing.IsActive
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	r.s.channels[c.ChannelID] = &cp
	return nil
}

func (r channelRepo) GetChannelByID(_ context.Context, id string) (*models.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.channels[id]
	if !ok {
		return nil, db.WrapError(db.ErrNotFound, "get channel by id")
	}
	cp := *c
	return &cp, nil
}

func (r channelRepo) ListActive(_ context.Context, limit, offset int) ([]*models.Channel, error) {
	if err := r.s.fail("list_active", ""); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var active []*models.Channel
	for _, c := range r.s.channels {
		if c.IsActive {
			cp := *c
			active = append(active, &cp)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ChannelID < active[j].ChannelID })
	return page(active, limit, offset), nil
}

func (r channelRepo) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[string]bool{}
	for _, id := range ids {
		if _, ok := r.s.channels[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (r channelRepo) MarkInactive(_ context.Context, id string) error {
	if err := r.s.fail("mark_inactive", id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.channels[id]
	if !ok {
		return db.WrapError(db.ErrNotFound, "mark channel inactive")
	}
	c.IsActive = false
	return nil
}

type videoRepo struct{ s *Store }

func (r videoRepo) InsertVideo(_ context.Context, v *models.Video) (bool, error) {
	if err := r.s.fail("insert_video", v.VideoID); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.videos[v.VideoID]; ok {
		return false, nil
	}
	if _, ok := r.s.channels[v.ChannelID]; !ok {
		return false, db.WrapError(db.ErrForeignKeyViolation, "insert video")
	}
	cp := *v
	r.s.videos[v.VideoID] = &cp
	return true, nil
}

func (r videoRepo) GetVideoByID(_ context.Context, id string) (*models.Video, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.videos[id]
	if !ok {
		return nil, db.WrapError(db.ErrNotFound, "get video by id")
	}
	cp := *v
	return &cp, nil
}

func (r videoRepo) UpdateCounts(_ context.Context, id string, counts models.VideoCounts) error {
	if err := r.s.fail("update_counts", id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.videos[id]
	if !ok {
		return db.WrapError(db.ErrNotFound, "update video counts")
	}
	v.Counts = counts
	v.UpdatedAt = time.Now()
	return nil
}

type scheduleRepo struct{ s *Store }

func (r scheduleRepo) InsertSchedule(_ context.Context, sc *models.VideoSchedule) (bool, error) {
	if err := r.s.fail("insert_schedule", sc.VideoID); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := repository.ValidateBin(sc.BinID); err != nil {
		return false, fmt.Errorf("insert schedule %s: %w", sc.VideoID, err)
	}
	if _, ok := r.s.schedules[sc.VideoID]; ok {
		return false, nil
	}
	cp := *sc
	r.s.schedules[sc.VideoID] = &cp
	return true, nil
}

func (r scheduleRepo) ListDueForBin(_ context.Context, bin, horizon, limit, offset int) ([]*models.VideoSchedule, error) {
	if err := r.s.fail("list_due", ""); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*models.VideoSchedule
	for _, sc := range r.s.schedules {
		if sc.BinID == bin && sc.CurrentSample < horizon {
			cp := *sc
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].UploadDatetime.Equal(due[j].UploadDatetime) {
			return due[i].UploadDatetime.Before(due[j].UploadDatetime)
		}
		return due[i].VideoID < due[j].VideoID
	})
	return page(due, limit, offset), nil
}

func (r scheduleRepo) GetCurrentSample(_ context.Context, id string) (int, error) {
	if err := r.s.fail("get_current_sample", id); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sc, ok := r.s.schedules[id]
	if !ok {
		return 0, db.WrapError(db.ErrNotFound, "get current sample")
	}
	return sc.CurrentSample, nil
}

func (r scheduleRepo) IncrementSample(_ context.Context, id string, expected, horizon int) (bool, error) {
	if err := r.s.fail("increment_sample", id); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sc, ok := r.s.schedules[id]
	if !ok || sc.CurrentSample != expected || sc.CurrentSample >= horizon {
		return false, nil
	}
	sc.CurrentSample++
	return true, nil
}

type sampleRepo struct{ s *Store }

func (r sampleRepo) Append(_ context.Context, samples ...models.StatSample) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inserted := 0
	for _, sm := range samples {
		if err := r.s.fail("append_sample", sm.VideoID); err != nil {
			return inserted, err
		}
		dup := false
		for _, existing := range r.s.samples[sm.VideoID] {
			if existing.DayIndex == sm.DayIndex {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		r.s.samples[sm.VideoID] = append(r.s.samples[sm.VideoID], sm)
		inserted++
	}
	return inserted, nil
}

func (r sampleRepo) ListByVideo(_ context.Context, id string) ([]models.StatSample, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := append([]models.StatSample(nil), r.s.samples[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].DayIndex < out[j].DayIndex })
	return out, nil
}

type binTickRepo struct{ s *Store }

func (r binTickRepo) TryAcquire(_ context.Context, bin int, hourStart, _ time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	last, ok := r.s.ticks[bin]
	if ok && !last.Before(hourStart) {
		return false, nil
	}
	if ok {
		r.s.prevTicks[bin] = last
	}
	r.s.ticks[bin] = hourStart
	return true, nil
}

func (r binTickRepo) Release(_ context.Context, bin int, hourStart time.Time) (bool, error) {
	if err := r.s.fail("release_tick", strconv.Itoa(bin)); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	last, ok := r.s.ticks[bin]
	if !ok || !last.Equal(hourStart) {
		return false, nil
	}
	if prev, had := r.s.prevTicks[bin]; had {
		r.s.ticks[bin] = prev
		delete(r.s.prevTicks, bin)
	} else {
		delete(r.s.ticks, bin)
	}
	return true, nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return nil
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}
