// Package fetch decides, for every read, whether to serve cached data,
// join an in-flight request, or start a new backend fetch.
//
// Rules, in order:
//   - data younger than StaleTime is served as is;
//   - older data is served immediately and refreshed in the background;
//   - missing data, data invalidated by a mutation, and failed entries
//     wait for a fetch.
//
// Concurrent reads of one key share a single backend call. Reads issued
// after an invalidation never join a fetch that started before it.
package fetch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/store"
	"github.com/campus-hub/querysync/pkg/logger"
	"github.com/campus-hub/querysync/pkg/retry"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

// Fetcher loads the data of one query key from the backend.
type Fetcher func(ctx context.Context) (any, error)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfig sets freshness and refetch behaviour.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) { c.cfg = cfg.normalized() }
}

// WithClock sets the clock used to age entries. It should match the store's.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer sets the tracer for read spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// Coordinator serves reads through the store.
type Coordinator struct {
	store   *store.Store
	cfg     Config
	clock   timeutil.Clock
	log     *logger.Logger
	metrics Metrics
	tracer  trace.Tracer
	retrier *retry.Retrier

	group singleflight.Group
	// bg tracks background refreshes and mount fetches.
	bg sync.WaitGroup
	// waiting counts callers blocked on a flight.
	waiting atomic.Int64

	mu       sync.Mutex
	fetchers map[string]*registration
	// epoch counts resets; registrations from an older epoch are gone.
	epoch uint64
}

// registration is the fetcher of a subscribed key, shared by all of its
// subscriptions.
type registration struct {
	key   keyspace.QueryKey
	fetch Fetcher
	refs  int
}

// NewCoordinator creates a Coordinator over s.
func NewCoordinator(s *store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    s,
		cfg:      DefaultConfig(),
		clock:    timeutil.SystemClock{},
		log:      logger.Nop(),
		metrics:  noopMetrics{},
		tracer:   noop.NewTracerProvider().Tracer("querysync/fetch"),
		fetchers: make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("fetch-coordinator"))
	c.retrier = retry.FetchRetrier(c.cfg.Retry, func(attempt int, err error, _ time.Duration) {
		c.log.Debug("fetch attempt failed, retrying", logger.Attempt(attempt), logger.Err(err))
	})
	return c
}

// Store returns the underlying store.
func (c *Coordinator) Store() *store.Store { return c.store }

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// ═══════════════════════════════════════════════════════════════════════════════
// READS
// ═══════════════════════════════════════════════════════════════════════════════

// Read returns the data for key, fetching it with fetch when needed.
//
// If ctx ends before the data arrives, Read returns ctx.Err(). The backend
// call is not cancelled: it completes and fills the cache for later readers.
func (c *Coordinator) Read(ctx context.Context, key keyspace.QueryKey, fetch Fetcher) (any, error) {
	ctx, span := c.tracer.Start(ctx, "querysync.read", trace.WithAttributes(attribute.String("query.key", key.Hash())))
	defer span.End()

	family := key.Family()
	if e, ok := c.store.Get(key); ok && c.servable(e) {
		age := e.Age(c.clock.Now())
		if age < c.cfg.StaleTime {
			c.metrics.CacheHit(family)
			span.SetAttributes(attribute.String("query.outcome", "hit"))
			return e.Data, nil
		}

		warn := &shared.StaleReadWarning{Key: key.Hash(), Age: age.Round(time.Millisecond).String()}
		c.log.Debug("stale read", logger.Key(key.Hash()), logger.Err(warn))
		c.metrics.StaleServed(family)
		span.SetAttributes(attribute.String("query.outcome", "stale"))
		c.refreshInBackground(ctx, key, fetch)
		return e.Data, nil
	}

	c.metrics.CacheMiss(family)
	span.SetAttributes(attribute.String("query.outcome", "miss"))
	data, err := c.await(ctx, key, fetch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return data, err
}

// ReadAs is Read with a typed result.
func ReadAs[T any](ctx context.Context, c *Coordinator, key keyspace.QueryKey, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Read(ctx, key, func(ctx context.Context) (any, error) { return fetch(ctx) })
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &shared.FetchError{Key: key.Hash(), Attempts: 0, Cause: errors.New("cached value has unexpected type")}
	}
	return t, nil
}

// servable reports whether e can answer a read without waiting.
func (c *Coordinator) servable(e store.Entry) bool {
	return e.HasData && !e.Invalidated && e.Status != store.StatusError
}

// flightKey pins a flight to the entry generation it was started for.
func (c *Coordinator) flightKey(key keyspace.QueryKey) string {
	var gen uint64
	if e, ok := c.store.Get(key); ok {
		gen = e.Generation
	}
	return key.Hash() + "@" + strconv.FormatUint(gen, 10)
}

// await joins or starts the flight for key and waits for it.
func (c *Coordinator) await(ctx context.Context, key keyspace.QueryKey, fetch Fetcher) (any, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(c.flightKey(key), func() (any, error) {
		return c.run(flightCtx, key, fetch)
	})

	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.DedupJoined(key.Family())
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run performs one fetch with retries and records the outcome in the store.
func (c *Coordinator) run(ctx context.Context, key keyspace.QueryKey, fetch Fetcher) (any, error) {
	start := c.clock.Now()
	token := c.store.BeginFetch(key)

	attempts := 0
	data, err := retry.DoWithData(ctx, c.retrier, func(ctx context.Context) (any, error) {
		attempts++
		return fetch(ctx)
	})
	c.metrics.FetchCompleted(key.Family(), c.clock.Now().Sub(start), err)

	if err != nil {
		ferr := &shared.FetchError{Key: key.Hash(), Attempts: attempts, Cause: err}
		c.store.FailFetch(key, token, ferr)
		c.log.Warn("fetch failed", logger.Key(key.Hash()), logger.Attempt(attempts), logger.Err(err))
		return nil, ferr
	}

	if !c.store.CompleteFetch(key, token, data) {
		c.log.Debug("fetch result superseded by invalidation", logger.Key(key.Hash()))
	}
	return data, nil
}

// refreshInBackground starts (or joins) a fetch without waiting for it.
func (c *Coordinator) refreshInBackground(ctx context.Context, key keyspace.QueryKey, fetch Fetcher) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(c.flightKey(key), func() (any, error) {
		return c.run(flightCtx, key, fetch)
	})

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		<-ch
	}()
}

// Wait blocks until every background refresh has finished.
func (c *Coordinator) Wait() {
	c.bg.Wait()
}

// ═══════════════════════════════════════════════════════════════════════════════
// INVALIDATION & REFETCH
// ═══════════════════════════════════════════════════════════════════════════════

// Invalidate marks every entry under the given prefixes stale and returns
// the affected keys. Duplicates are removed.
func (c *Coordinator) Invalidate(prefixes ...keyspace.QueryKey) []keyspace.QueryKey {
	seen := make(map[string]struct{})
	var out []keyspace.QueryKey
	for _, p := range prefixes {
		for _, k := range c.store.InvalidatePrefix(p) {
			if _, ok := seen[k.Hash()]; ok {
				continue
			}
			seen[k.Hash()] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// RefetchSubscribed refetches the given keys that currently have a
// subscription and waits for all of them. Keys without subscribers stay
// stale until their next read. Failures are joined into the returned error.
func (c *Coordinator) RefetchSubscribed(ctx context.Context, keys []keyspace.QueryKey) error {
	regs := c.registrations(keys)
	if len(regs) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(c.cfg.RefetchConcurrency)
	for _, r := range regs {
		g.Go(func() error {
			if _, err := c.await(ctx, r.key, r.fetch); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (c *Coordinator) registrations(keys []keyspace.QueryKey) []registration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []registration
	for _, k := range keys {
		if r, ok := c.fetchers[k.Hash()]; ok {
			out = append(out, *r)
		}
	}
	return out
}

// OnWindowFocus refetches stale subscribed keys if focus refetch is enabled.
func (c *Coordinator) OnWindowFocus(ctx context.Context) error {
	if !c.cfg.RefetchOnWindowFocus {
		return nil
	}
	return c.refetchStaleSubscribed(ctx, "window-focus")
}

// OnReconnect refetches stale subscribed keys if reconnect refetch is enabled.
func (c *Coordinator) OnReconnect(ctx context.Context) error {
	if !c.cfg.RefetchOnReconnect {
		return nil
	}
	return c.refetchStaleSubscribed(ctx, "reconnect")
}

// RefetchStale refetches every subscribed key whose data is stale or
// failed, regardless of the focus and reconnect toggles.
func (c *Coordinator) RefetchStale(ctx context.Context) error {
	return c.refetchStaleSubscribed(ctx, "interval")
}

func (c *Coordinator) refetchStaleSubscribed(ctx context.Context, reason string) error {
	now := c.clock.Now()
	var stale []keyspace.QueryKey
	for _, k := range c.store.Subscribed(keyspace.Root()) {
		e, ok := c.store.Get(k)
		if !ok {
			continue
		}
		if !c.servable(e) || e.Age(now) >= c.cfg.StaleTime {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	c.log.Debug("reactive refetch", logger.String("reason", reason), logger.Int("keys", len(stale)))
	return c.RefetchSubscribed(ctx, stale)
}

// Reset drops all cached data, e.g. when the signed-in actor changes.
// Subscriptions created before the reset no longer receive updates and
// should be unmounted and recreated; unmounting them never affects
// subscriptions mounted after the reset.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.epoch++
	c.fetchers = make(map[string]*registration)
	c.mu.Unlock()

	c.store.Reset()
}
