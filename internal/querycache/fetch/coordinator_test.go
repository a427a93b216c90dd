package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/store"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

var coursesDivA = keyspace.MustKeyFor(keyspace.Courses, keyspace.Params{keyspace.ParamDivisionID: "divA"})

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *timeutil.ManualClock) {
	t.Helper()
	clock := timeutil.NewManualClock(time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC))
	s := store.New(store.WithClock(clock))
	c := NewCoordinator(s, WithConfig(cfg), WithClock(clock))
	t.Cleanup(c.Wait)
	return c, clock
}

// countingFetcher returns the call number as data.
func countingFetcher(calls *atomic.Int32) Fetcher {
	return func(ctx context.Context) (any, error) {
		return int(calls.Add(1)), nil
	}
}

func TestRead_DeduplicatesConcurrentReads(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return []string{"OS", "DBMS"}, nil
	}

	const readers = 10
	var wg sync.WaitGroup
	results := make([]any, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Read(context.Background(), coursesDivA, fetch)
		}(i)
	}

	require.Eventually(t, func() bool { return c.waiting.Load() == readers }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"OS", "DBMS"}, results[i])
	}
}

func TestRead_StalenessWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleTime = 5 * time.Minute
	c, clock := newTestCoordinator(t, cfg)

	var calls atomic.Int32
	fetch := countingFetcher(&calls)

	v, err := c.Read(context.Background(), coursesDivA, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(time.Millisecond)
	v, err = c.Read(context.Background(), coursesDivA, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "served from cache inside the window")
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(5 * time.Minute)
	v, err = c.Read(context.Background(), coursesDivA, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "stale data is served immediately")

	c.Wait()
	assert.Equal(t, int32(2), calls.Load(), "a background refresh ran")
	e, _ := c.Store().Get(coursesDivA)
	assert.Equal(t, 2, e.Data)
	assert.Equal(t, store.StatusFresh, e.Status)
}

func TestRead_InvalidatedEntryWaitsForRefetch(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	var calls atomic.Int32
	fetch := countingFetcher(&calls)

	_, err := c.Read(context.Background(), coursesDivA, fetch)
	require.NoError(t, err)

	affected := c.Invalidate(keyspace.EntityRoot(keyspace.Courses))
	assert.Len(t, affected, 1)

	v, err := c.Read(context.Background(), coursesDivA, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "read after a write sees post-write data")
}

func TestRead_RetriesOnceThenSucceeds(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return "ok", nil
	}

	v, err := c.Read(context.Background(), coursesDivA, fetch)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRead_TransportTimeoutIsRetried(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, context.DeadlineExceeded
		}
		return "ok", nil
	}

	v, err := c.Read(context.Background(), coursesDivA, fetch)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRead_ExhaustedRetriesSetErrorUntilNextRead(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	var calls atomic.Int32
	down := errors.New("backend down")
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, down
	}

	_, err := c.Read(context.Background(), coursesDivA, fetch)
	require.Error(t, err)
	assert.True(t, shared.IsFetchError(err))
	assert.ErrorIs(t, err, down)

	var fe *shared.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 2, fe.Attempts)

	e, _ := c.Store().Get(coursesDivA)
	assert.Equal(t, store.StatusError, e.Status)

	_, err = c.Read(context.Background(), coursesDivA, fetch)
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load(), "an explicit read tries again")
}

func TestRead_CancelledCallerDoesNotCancelFetch(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		select {
		case <-release:
			return "rows", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Read(ctx, coursesDivA, fetch)
		done <- err
	}()

	require.Eventually(t, func() bool { return c.waiting.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		e, ok := c.Store().Get(coursesDivA)
		return ok && e.Status == store.StatusFresh
	}, time.Second, time.Millisecond)

	v, err := c.Read(context.Background(), coursesDivA, fetch)
	require.NoError(t, err)
	assert.Equal(t, "rows", v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRead_PostInvalidationReadDoesNotJoinOlderFlight(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			<-release
			return "before-write", nil
		}
		return "after-write", nil
	}

	first := make(chan any, 1)
	go func() {
		v, _ := c.Read(context.Background(), coursesDivA, fetch)
		first <- v
	}()
	// The first fetch has started once the fetcher ran.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Invalidate(keyspace.Root())

	v, err := c.Read(context.Background(), coursesDivA, fetch)
	require.NoError(t, err)
	assert.Equal(t, "after-write", v)

	close(release)
	assert.Equal(t, "before-write", <-first)

	e, _ := c.Store().Get(coursesDivA)
	assert.Equal(t, "after-write", e.Data, "the older result never overwrites newer data")
	assert.Equal(t, store.StatusFresh, e.Status)
}

func TestReadAs(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	got, err := ReadAs(context.Background(), c, coursesDivA, func(ctx context.Context) ([]int, error) {
		return []int{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)

	_, err = ReadAs(context.Background(), c, coursesDivA, func(ctx context.Context) (string, error) {
		return "never called", nil
	})
	assert.True(t, shared.IsFetchError(err))
}

func TestObserve_LifecycleAndEagerRefetch(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	var calls atomic.Int32
	var (
		mu     sync.Mutex
		states []QueryState
	)
	sub := c.Observe(context.Background(), coursesDivA, countingFetcher(&calls), func(s QueryState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	c.Wait()

	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, 1, sub.State().Data)

	mu.Lock()
	require.NotEmpty(t, states)
	assert.False(t, states[0].HasData, "initial state before the mount fetch")
	assert.Equal(t, 1, states[len(states)-1].Data)
	mu.Unlock()

	affected := c.Invalidate(keyspace.EntityRoot(keyspace.Courses))
	stale := sub.State()
	assert.True(t, stale.IsStale)
	assert.Equal(t, 1, stale.Data, "last-known data stays visible")

	require.NoError(t, c.RefetchSubscribed(context.Background(), affected))
	assert.Equal(t, 2, sub.State().Data)
	assert.Equal(t, int32(2), calls.Load())

	sub.Unmount()
	sub.Unmount()
	assert.False(t, c.Store().Has(coursesDivA))
	assert.NoError(t, c.RefetchSubscribed(context.Background(), affected))
	assert.Equal(t, int32(2), calls.Load(), "unmounted keys are not refetched")
}

func TestRefetchSubscribed_SkipsUnsubscribedKeys(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	other := keyspace.MustKeyFor(keyspace.Courses, keyspace.Params{keyspace.ParamDivisionID: "divB"})

	var calls atomic.Int32
	_, err := c.Read(context.Background(), other, countingFetcher(&calls))
	require.NoError(t, err)

	affected := c.Invalidate(other)
	require.NoError(t, c.RefetchSubscribed(context.Background(), affected))
	assert.Equal(t, int32(1), calls.Load())

	e, _ := c.Store().Get(other)
	assert.True(t, e.Invalidated)
}

func TestReactiveRefetchToggles(t *testing.T) {
	cfg := DefaultConfig()
	c, clock := newTestCoordinator(t, cfg)

	var calls atomic.Int32
	sub := c.Observe(context.Background(), coursesDivA, countingFetcher(&calls), nil)
	defer sub.Unmount()
	c.Wait()
	require.Equal(t, int32(1), calls.Load())

	clock.Advance(cfg.StaleTime)

	require.NoError(t, c.OnWindowFocus(context.Background()))
	assert.Equal(t, int32(1), calls.Load(), "focus refetch is off by default")

	require.NoError(t, c.OnReconnect(context.Background()))
	assert.Equal(t, int32(2), calls.Load())

	require.NoError(t, c.OnReconnect(context.Background()))
	assert.Equal(t, int32(2), calls.Load(), "fresh keys are left alone")
}

func TestReset(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	var calls atomic.Int32
	_, err := c.Read(context.Background(), coursesDivA, countingFetcher(&calls))
	require.NoError(t, err)

	c.Reset()
	assert.Equal(t, 0, c.Store().Len())
}

func TestReset_UnmountOfOldSubscriptionKeepsNewOne(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	ctx := context.Background()

	var oldCalls, newCalls atomic.Int32
	old := c.Observe(ctx, coursesDivA, countingFetcher(&oldCalls), nil)
	c.Wait()

	c.Reset()
	fresh := c.Observe(ctx, coursesDivA, countingFetcher(&newCalls), nil)
	defer fresh.Unmount()
	c.Wait()
	require.Equal(t, int32(1), newCalls.Load())

	old.Unmount()
	assert.Equal(t, []keyspace.QueryKey{coursesDivA}, c.Store().Subscribed(keyspace.Root()))

	affected := c.Invalidate(keyspace.FromTokens("courses"))
	require.NoError(t, c.RefetchSubscribed(ctx, affected))
	assert.Equal(t, int32(2), newCalls.Load())
	assert.Equal(t, int32(1), oldCalls.Load())

	e, ok := c.Store().Get(coursesDivA)
	require.True(t, ok)
	assert.Equal(t, 2, e.Data)
}

func TestRefetchStale_IgnoresToggles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefetchOnReconnect = false
	c, clock := newTestCoordinator(t, cfg)

	var calls atomic.Int32
	sub := c.Observe(context.Background(), coursesDivA, countingFetcher(&calls), nil)
	defer sub.Unmount()
	c.Wait()

	require.NoError(t, c.RefetchStale(context.Background()))
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(cfg.StaleTime)
	require.NoError(t, c.RefetchStale(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}
