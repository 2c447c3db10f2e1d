package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

const snapshotCacheVersion = 1

// SnapshotCache keeps rendered board snapshots in Redis so polling clients do
// not hit the table on every tick.
type SnapshotCache struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

type cachedSnapshot struct {
	Version  int             `json:"version"`
	CachedAt time.Time       `json:"cachedAt"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

// NewSnapshotCache creates a cache with the given TTL. A zero TTL disables
// storing, a nil client disables the cache entirely.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl < 0 {
		ttl = 0
	}
	return &SnapshotCache{redis: client, ttl: ttl, now: time.Now}
}

// Load returns the cached snapshot of board if present and readable.
func (c *SnapshotCache) Load(ctx context.Context, board string) (domain.Snapshot, bool) {
	if c == nil || c.redis == nil {
		return domain.Snapshot{}, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(board)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey(board)).Err()
		}
		return domain.Snapshot{}, false
	}
	var cached cachedSnapshot
	if err := sonic.Unmarshal(data, &cached); err != nil || cached.Version != snapshotCacheVersion {
		_ = c.redis.Del(ctx, snapshotCacheKey(board)).Err()
		return domain.Snapshot{}, false
	}
	return cached.Snapshot, true
}

// storeIfCurrent writes the snapshot only while the generation counter still
// holds the value read before the snapshot was taken.
var storeIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Generation returns the eviction counter of board. Read it before taking the
// snapshot that is later passed to Store.
func (c *SnapshotCache) Generation(ctx context.Context, board string) (int64, error) {
	if c == nil || c.redis == nil {
		return 0, nil
	}
	gen, err := c.redis.Get(ctx, generationKey(board)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Store caches snap under its board name unless the board was evicted after
// gen was read. It reports whether the snapshot was written.
func (c *SnapshotCache) Store(ctx context.Context, snap domain.Snapshot, gen int64) (bool, error) {
	if c == nil || c.redis == nil || c.ttl == 0 {
		return false, nil
	}
	data, err := sonic.Marshal(cachedSnapshot{Version: snapshotCacheVersion, CachedAt: c.now().UTC(), Snapshot: snap})
	if err != nil {
		return false, err
	}
	keys := []string{generationKey(snap.Board), snapshotCacheKey(snap.Board)}
	stored, err := storeIfCurrent.Run(ctx, c.redis, keys, gen, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// Evict drops the cached snapshot of board and bumps its generation so reads
// that started earlier can no longer fill the cache.
func (c *SnapshotCache) Evict(ctx context.Context, board string) error {
	if c == nil || c.redis == nil {
		return nil
	}
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(board))
		pipe.Del(ctx, snapshotCacheKey(board))
		return nil
	})
	return err
}

func snapshotCacheKey(board string) string {
	return "board:" + board + ":snapshot"
}

func generationKey(board string) string {
	return "board:" + board + ":generation"
}
