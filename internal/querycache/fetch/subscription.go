package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/store"
	"github.com/campus-hub/querysync/pkg/logger"
)

// QueryState is what a mounted view sees for its key.
type QueryState struct {
	Data      any
	HasData   bool
	IsLoading bool
	// IsFetching is true while any fetch runs, including background ones.
	IsFetching bool
	IsError    bool
	IsStale    bool
	Err        error
	Status     store.Status
	FetchedAt  time.Time
}

func stateOf(e store.Entry) QueryState {
	return QueryState{
		Data:       e.Data,
		HasData:    e.HasData,
		IsLoading:  e.IsLoading(),
		IsFetching: e.Status == store.StatusFetching,
		IsError:    e.Status == store.StatusError,
		IsStale:    e.Invalidated || e.Status == store.StatusStale,
		Err:        e.Err,
		Status:     e.Status,
		FetchedAt:  e.FetchedAt,
	}
}

// Subscription is a live consumer of one query key. While at least one
// subscription for a key exists, the key is refetched eagerly after a
// mutation invalidates it.
type Subscription struct {
	id    string
	key   keyspace.QueryKey
	c     *Coordinator
	fetch Fetcher
	unsub func()
	epoch uint64
	once  sync.Once
}

// Observe mounts a subscription on key. onChange (if not nil) is called
// with the current state right away and after every change of the entry,
// never under the store lock. A mount fetch starts in the background when
// the cached data cannot be served as is.
func (c *Coordinator) Observe(ctx context.Context, key keyspace.QueryKey, fetch Fetcher, onChange func(QueryState)) *Subscription {
	sub := &Subscription{
		id:    uuid.NewString(),
		key:   key,
		c:     c,
		fetch: fetch,
	}

	sub.epoch = c.register(key, fetch)

	var listener store.Listener
	if onChange != nil {
		listener = func(e store.Entry) { onChange(stateOf(e)) }
	}
	sub.unsub = c.store.Subscribe(key, listener)

	if onChange != nil {
		e, _ := c.store.Get(key)
		onChange(stateOf(e))
	}

	c.log.Debug("subscription mounted", logger.SubscriptionID(sub.id), logger.Key(key.Hash()))

	mountCtx := context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if _, err := c.Read(mountCtx, key, fetch); err != nil {
			c.log.Debug("mount fetch failed", logger.SubscriptionID(sub.id), logger.Err(err))
		}
	}()

	return sub
}

// register records fetch for key and returns the current reset epoch.
func (c *Coordinator) register(key keyspace.QueryKey, fetch Fetcher) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := key.Hash()
	if r, ok := c.fetchers[hash]; ok {
		r.refs++
		// The most recent mount wins; all mounts of a key fetch the same data.
		r.fetch = fetch
		return c.epoch
	}
	c.fetchers[hash] = &registration{key: key, fetch: fetch, refs: 1}
	return c.epoch
}

func (c *Coordinator) unregister(key keyspace.QueryKey, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return
	}
	hash := key.Hash()
	r, ok := c.fetchers[hash]
	if !ok {
		return
	}
	r.refs--
	if r.refs <= 0 {
		delete(c.fetchers, hash)
	}
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// Key returns the subscribed key.
func (s *Subscription) Key() keyspace.QueryKey { return s.key }

// State returns the current state of the key.
func (s *Subscription) State() QueryState {
	e, _ := s.c.store.Get(s.key)
	return stateOf(e)
}

// Read reads the key through the coordinator.
func (s *Subscription) Read(ctx context.Context) (any, error) {
	return s.c.Read(ctx, s.key, s.fetch)
}

// Refetch forces a fetch regardless of freshness and waits for it.
func (s *Subscription) Refetch(ctx context.Context) (any, error) {
	s.c.store.MarkStale(s.key)
	return s.c.await(ctx, s.key, s.fetch)
}

// Unmount detaches the subscription. An in-flight fetch is not cancelled,
// but its result is no longer delivered here. Unmounting the last
// subscription of a key evicts the entry. Safe to call more than once.
func (s *Subscription) Unmount() {
	s.once.Do(func() {
		s.unsub()
		s.c.unregister(s.key, s.epoch)
		s.c.log.Debug("subscription unmounted", logger.SubscriptionID(s.id), logger.Key(s.key.Hash()))
	})
}
