package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ad-tracker/youtube-stats-collector/internal/db/repository"
)

// Fence admits at most one tick per (bin, hour). Acquire returns ErrAlreadyTicked
// when the hour was already claimed. Release gives back a claim this fence holds,
// so a tick that failed before writing anything can be retried within the hour.
type Fence interface {
	Acquire(ctx context.Context, bin int, hourStart time.Time) error
	Release(ctx context.Context, bin int, hourStart time.Time) error
}

// NoFence admits every tick.
type NoFence struct{}

func (NoFence) Acquire(context.Context, int, time.Time) error { return nil }

func (NoFence) Release(context.Context, int, time.Time) error { return nil }

// PostgresFence claims hours in the bin_ticks table.
type PostgresFence struct {
	repo repository.BinTickRepository
	now  func() time.Time
}

// NewPostgresFence creates a PostgresFence.
func NewPostgresFence(repo repository.BinTickRepository) *PostgresFence {
	return &PostgresFence{repo: repo, now: time.Now}
}

func (f *PostgresFence) Acquire(ctx context.Context, bin int, hourStart time.Time) error {
	ok, err := f.repo.TryAcquire(ctx, bin, hourStart, f.now())
	if err != nil {
		return fmt.Errorf("acquire tick fence: %w", err)
	}
	if !ok {
		return ErrAlreadyTicked
	}
	return nil
}

func (f *PostgresFence) Release(ctx context.Context, bin int, hourStart time.Time) error {
	if _, err := f.repo.Release(ctx, bin, hourStart); err != nil {
		return fmt.Errorf("release tick fence: %w", err)
	}
	return nil
}

// DefaultRedisFenceTTL keeps a claim well past the end of its hour.
const DefaultRedisFenceTTL = 2 * time.Hour

// releaseScript deletes the key only while it still holds the caller's token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisFence claims hours with SETNX on collector:tick:<bin>:<yyyymmddhh>.
// The stored value is a per-fence token; Release only deletes its own claims.
type RedisFence struct {
	client redis.Cmdable
	ttl    time.Duration
	token  string
}

// NewRedisFence creates a RedisFence. A non-positive ttl uses DefaultRedisFenceTTL.
func NewRedisFence(client redis.Cmdable, ttl time.Duration) *RedisFence {
	if ttl <= 0 {
		ttl = DefaultRedisFenceTTL
	}
	return &RedisFence{client: client, ttl: ttl, token: uuid.NewString()}
}

// FenceKey returns the redis key claimed for (bin, hourStart).
func FenceKey(bin int, hourStart time.Time) string {
	return fmt.Sprintf("collector:tick:%d:%s", bin, hourStart.UTC().Format("2006010215"))
}

func (f *RedisFence) Acquire(ctx context.Context, bin int, hourStart time.Time) error {
	ok, err := f.client.SetNX(ctx, FenceKey(bin, hourStart), f.token, f.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire tick fence: %w", err)
	}
	if !ok {
		return ErrAlreadyTicked
	}
	return nil
}

func (f *RedisFence) Release(ctx context.Context, bin int, hourStart time.Time) error {
	if err := f.client.Eval(ctx, releaseScript, []string{FenceKey(bin, hourStart)}, f.token).Err(); err != nil {
		return fmt.Errorf("release tick fence: %w", err)
	}
	return nil
}
