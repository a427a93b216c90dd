package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-hub/querysync/internal/domain/shared"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/mutation"
	"github.com/campus-hub/querysync/internal/querycache/scope"
	"github.com/campus-hub/querysync/pkg/logger"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
}

// broker is an in-process stand-in for Redis pub/sub.
type broker struct {
	mu   sync.Mutex
	subs []chan RedisMessage
}

func (b *broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		ch <- RedisMessage{Channel: channel, Payload: string(payload)}
	}
	return nil
}

func (b *broker) Subscribe(_ context.Context, _ ...string) (<-chan RedisMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	b.subs = append(b.subs, ch)
	return ch, nil
}

type recordingApplier struct {
	mu    sync.Mutex
	calls [][]ks.QueryKey
}

func (r *recordingApplier) ApplyRemote(_ context.Context, prefixes []ks.QueryKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, prefixes)
	return nil
}

func (r *recordingApplier) Calls() [][]ks.QueryKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]ks.QueryKey(nil), r.calls...)
}

func TestInMemoryEventBus_Publish(t *testing.T) {
	bus := syncBus()
	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventQueryInvalidated, func(context.Context, shared.Event) error {
		typed++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(context.Context, shared.Event) error {
		all++
		return errors.New("ignored")
	}))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, shared.NewQueryInvalidatedEvent("course", "create", "c1", [][]string{{"courses"}})))
	require.NoError(t, bus.Publish(ctx, shared.NewMutationEvent("course", "create", "c1", "", nil)))
	assert.Equal(t, 1, typed)
	assert.Equal(t, 2, all)

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(ctx, shared.NewMutationEvent("course", "create", "c1", "", nil)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventMutationFailed, func(context.Context, shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_Async(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	var mu sync.Mutex
	got := 0
	require.NoError(t, bus.SubscribeAll(func(context.Context, shared.Event) error {
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), shared.NewMutationEvent("exam", "update", "e1", "", nil)))
	}
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, got)
}

func TestRedisEventBus_RemoteOnly(t *testing.T) {
	br := &broker{}
	newBus := func(id string) *RedisEventBus {
		b, err := NewRedisEventBus(RedisEventBusConfig{
			Client:         br,
			InstanceID:     id,
			LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}
	a, b := newBus("a"), newBus("b")

	applierA, applierB := &recordingApplier{}, &recordingApplier{}
	require.NoError(t, a.Subscribe(shared.EventQueryInvalidated, InvalidationHandler(applierA, nil)))
	require.NoError(t, b.Subscribe(shared.EventQueryInvalidated, InvalidationHandler(applierB, nil)))

	hook := BroadcastHook(a)
	assert.Equal(t, "broadcast", hook.Name())
	require.NoError(t, hook.AfterInvalidate(context.Background(), mutation.Invalidation{
		Entity:   scope.Course,
		Op:       shared.OpCreate,
		RecordID: "c1",
		Prefixes: []ks.QueryKey{
			ks.MustKeyFor(ks.Courses, ks.Params{ks.ParamDivisionID: "divA"}),
			ks.FromTokens("enrollments", "c1"),
		},
	}))

	assert.Eventually(t, func() bool { return len(applierB.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	calls := applierB.Calls()
	require.Len(t, calls[0], 2)
	assert.Equal(t, `["courses","divA"]`, calls[0][0].Hash())
	assert.Equal(t, `["enrollments","c1"]`, calls[0][1].Hash())

	// The publisher already invalidated locally and never sees its own event.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, applierA.Calls())
}

func TestBroadcastHook_NoPrefixes(t *testing.T) {
	bus := syncBus()
	published := 0
	require.NoError(t, bus.SubscribeAll(func(context.Context, shared.Event) error {
		published++
		return nil
	}))
	require.NoError(t, BroadcastHook(bus).AfterInvalidate(context.Background(), mutation.Invalidation{}))
	assert.Zero(t, published)
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	bus := syncBus()
	d := NewDispatcher(DispatcherConfig{
		Bus:         bus,
		RetryConfig: RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	d.Use(RecoveryMiddleware(logger.Nop()))
	d.Use(LoggingMiddleware(logger.Nop()))

	attempts := 0
	require.NoError(t, d.Register(shared.EventMutationCommitted, "flaky", func(context.Context, shared.Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, d.Start())

	require.NoError(t, bus.Publish(context.Background(), shared.NewMutationEvent("exam", "update", "e1", "", nil)))
	assert.Equal(t, 3, attempts)
	assert.Zero(t, d.DeadLetterQueue().Size())
}

func TestDispatcher_DeadLetter(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		RetryConfig: RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	d.Use(RecoveryMiddleware(logger.Nop()))

	require.NoError(t, d.Register(shared.EventMutationFailed, "panicky", func(context.Context, shared.Event) error {
		panic("boom")
	}))

	err := d.Dispatch(context.Background(), shared.NewMutationEvent("exam", "update", "e1", "", errors.New("conflict")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerPanic)

	entries := d.DeadLetterQueue().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "panicky", entries[0].HandlerName)
	assert.Equal(t, 2, entries[0].Attempts)
}

func TestDispatcher_RegisterValidation(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	assert.Error(t, d.Register(shared.EventMutationFailed, "x", nil))
	assert.Error(t, d.Register(shared.EventMutationFailed, "", func(context.Context, shared.Event) error { return nil }))
	assert.Error(t, d.Start(), "no bus")
}

func TestDeadLetterQueue_Bounded(t *testing.T) {
	q := NewDeadLetterQueue(2)
	for _, name := range []string{"a", "b", "c"} {
		q.Add(DeadLetterEntry{HandlerName: name})
	}
	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].HandlerName)
	assert.Equal(t, "c", entries[1].HandlerName)
}

func TestGoRedisClient_PubSub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rc := NewGoRedisClient(client)
	msgs, err := rc.Subscribe(ctx, "querysync:events")
	require.NoError(t, err)
	require.NoError(t, rc.Publish(ctx, "querysync:events", []byte(`{"instance_id":"x"}`)))

	select {
	case msg := <-msgs:
		require.NoError(t, msg.Err)
		assert.Equal(t, "querysync:events", msg.Channel)
		assert.JSONEq(t, `{"instance_id":"x"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
