package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/mutation"
	"github.com/campus-hub/querysync/pkg/logger"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// KEY SCHEME
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PrefixQuery prefixes every shared query snapshot.
	PrefixQuery = "qc:"

	// partitionSep separates a personal key from its actor partition.
	partitionSep = "|u:"
)

// Partition returns the actor partition suffix used for personal views.
// The actor id itself never reaches Redis.
func Partition(actorID string) string {
	sum := blake2b.Sum256([]byte(actorID))
	return hex.EncodeToString(sum[:16])
}

// StorageKey returns the Redis key of a query snapshot. Personal keys need
// an actor; without one the snapshot is not shareable and ok is false.
func StorageKey(key ks.QueryKey, actorID string) (string, bool) {
	base := PrefixQuery + key.Hash()
	if !key.IsPersonal() {
		return base, true
	}
	if actorID == "" {
		return "", false
	}
	return base + partitionSep + Partition(actorID), true
}

// PurgePatterns returns the SCAN patterns that cover prefix and every key
// below it, across all actor partitions.
func PurgePatterns(prefix ks.QueryKey) []string {
	if prefix.IsRoot() {
		return []string{PrefixQuery + "*"}
	}
	hash := prefix.Hash()
	return []string{
		// the key itself and its partitions
		PrefixQuery + globEscape(hash) + "*",
		// descendants: ["a","b"] -> ["a","b",...
		PrefixQuery + globEscape(hash[:len(hash)-1]+",") + "*",
	}
}

func globEscape(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// SHARED CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the stored form of a query result.
type Snapshot struct {
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// SharedCache is the second cache level shared by all instances. Reads go
// through it before reaching the backend; committed writes purge it.
type SharedCache struct {
	cache *Cache
	ttl   time.Duration
	clock timeutil.Clock
	log   *logger.Logger

	// purges counts PurgePrefix calls on this instance.
	purges atomic.Uint64
}

// SharedOption configures a SharedCache.
type SharedOption func(*SharedCache)

// WithTTL sets the snapshot lifetime. It should match the stale window.
func WithTTL(ttl time.Duration) SharedOption {
	return func(c *SharedCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the clock stamped into snapshots.
func WithClock(clock timeutil.Clock) SharedOption {
	return func(c *SharedCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) SharedOption {
	return func(c *SharedCache) {
		if l != nil {
			c.log = l
		}
	}
}

// NewSharedCache creates a SharedCache on cache.
func NewSharedCache(cache *Cache, opts ...SharedOption) *SharedCache {
	c := &SharedCache{
		cache: cache,
		ttl:   30 * time.Second,
		clock: timeutil.SystemClock{},
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("l2"))
	return c
}

// TTL returns the snapshot lifetime.
func (c *SharedCache) TTL() time.Duration { return c.ttl }

// Load returns the snapshot stored for key, or ErrCacheMiss.
func (c *SharedCache) Load(ctx context.Context, key ks.QueryKey, actorID string) (Snapshot, error) {
	sk, ok := StorageKey(key, actorID)
	if !ok {
		return Snapshot{}, ErrCacheMiss
	}
	var snap Snapshot
	if err := c.cache.Get(ctx, sk, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Store saves data as the snapshot of key.
func (c *SharedCache) Store(ctx context.Context, key ks.QueryKey, actorID string, data any) error {
	sk, ok := StorageKey(key, actorID)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Join(ErrCacheSerialization, err)
	}
	return c.cache.Set(ctx, sk, Snapshot{Data: raw, FetchedAt: c.clock.Now()}, c.ttl)
}

// PurgePrefix deletes the snapshots of every key under the prefixes and
// returns how many were deleted.
func (c *SharedCache) PurgePrefix(ctx context.Context, prefixes ...ks.QueryKey) (int, error) {
	c.purges.Add(1)
	total := 0
	for _, p := range prefixes {
		for _, pattern := range PurgePatterns(p) {
			n, err := c.cache.DeleteByPattern(ctx, pattern)
			total += n
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// Purger returns the dispatcher purger that deletes the snapshots under
// the prefixes a committed write invalidates.
func (c *SharedCache) Purger() mutation.Purger {
	return mutation.PurgerFunc{
		PurgerName: "l2-purge",
		Fn: func(ctx context.Context, prefixes []ks.QueryKey) error {
			n, err := c.PurgePrefix(ctx, prefixes...)
			if err != nil {
				return err
			}
			c.log.Debug("purged shared snapshots", logger.Int("prefixes", len(prefixes)), logger.Int("deleted", n))
			return nil
		},
	}
}

// ReadThrough serves key from the shared cache and falls back to fetch on a
// miss, storing the result. Redis failures degrade to a plain fetch. A nil
// cache is a plain fetch.
//
// A result whose fetch overlapped a purge on this instance is returned but
// not stored, since it may predate the write that caused the purge. Purges
// on other instances are not seen; the TTL bounds how long such a snapshot
// is served.
func ReadThrough[T any](ctx context.Context, c *SharedCache, key ks.QueryKey, actorID string, fetch func(ctx context.Context) (T, error)) (T, error) {
	if c == nil {
		return fetch(ctx)
	}

	epoch := c.purges.Load()
	snap, err := c.Load(ctx, key, actorID)
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(snap.Data, &v); err == nil {
			return v, nil
		}
		c.log.Warn("discarding undecodable snapshot", logger.Key(key.Hash()))
	case errors.Is(err, ErrCacheMiss):
	default:
		c.log.Warn("shared cache read failed", logger.Key(key.Hash()), logger.Err(err))
	}

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	c.storeUnlessPurged(ctx, key, actorID, v, epoch)
	return v, nil
}

// storeUnlessPurged stores v unless a purge started after epoch. A purge
// racing the write itself is caught by the second check.
func (c *SharedCache) storeUnlessPurged(ctx context.Context, key ks.QueryKey, actorID string, v any, epoch uint64) {
	if c.purges.Load() != epoch {
		c.log.Debug("skipping snapshot fetched across a purge", logger.Key(key.Hash()))
		return
	}
	if err := c.Store(ctx, key, actorID, v); err != nil {
		c.log.Warn("shared cache write failed", logger.Key(key.Hash()), logger.Err(err))
		return
	}
	if c.purges.Load() == epoch {
		return
	}
	if sk, ok := StorageKey(key, actorID); ok {
		if err := c.cache.Delete(ctx, sk); err != nil {
			c.log.Warn("shared cache cleanup failed", logger.Key(key.Hash()), logger.Err(err))
		}
	}
}
