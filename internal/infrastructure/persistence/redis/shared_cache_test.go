package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/querycache/fetch"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/mutation"
	"github.com/campus-hub/querysync/internal/querycache/scope"
	"github.com/campus-hub/querysync/internal/querycache/store"
)

func newTestShared(t *testing.T) (*SharedCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSharedCache(NewCacheFromClient(client), WithTTL(time.Minute)), mr
}

func TestStorageKey(t *testing.T) {
	k := ks.MustKeyFor(ks.Courses, ks.Params{ks.ParamDivisionID: "divA"})
	sk, ok := StorageKey(k, "")
	require.True(t, ok)
	assert.Equal(t, `qc:["courses","divA"]`, sk)

	mine := ks.MustKeyFor(ks.MyExamResults, nil)
	_, ok = StorageKey(mine, "")
	assert.False(t, ok, "personal keys need an actor")

	a, _ := StorageKey(mine, "stu-1")
	b, _ := StorageKey(mine, "stu-2")
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "stu-1")
}

func TestPurgePatterns(t *testing.T) {
	assert.Equal(t, []string{"qc:*"}, PurgePatterns(ks.Root()))
	assert.Equal(t, []string{
		`qc:\["courses"\]*`,
		`qc:\["courses",*`,
	}, PurgePatterns(ks.FromTokens("courses")))
}

func TestReadThrough_MissThenHit(t *testing.T) {
	sc, mr := newTestShared(t)
	ctx := context.Background()
	key := ks.MustKeyFor(ks.Exams, ks.Params{ks.ParamSemesterID: "sem1"})

	calls := 0
	fetch := func(context.Context) ([]string, error) {
		calls++
		return []string{"midterm"}, nil
	}

	v, err := ReadThrough(ctx, sc, key, "", fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"midterm"}, v)
	assert.True(t, mr.Exists(`qc:["exams","sem1"]`))
	assert.Equal(t, time.Minute, mr.TTL(`qc:["exams","sem1"]`))

	v, err = ReadThrough(ctx, sc, key, "", fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"midterm"}, v)
	assert.Equal(t, 1, calls)
}

func TestReadThrough_FetchErrorNotStored(t *testing.T) {
	sc, mr := newTestShared(t)
	key := ks.MustKeyFor(ks.Exams, ks.Params{ks.ParamSemesterID: "sem1"})
	boom := errors.New("boom")

	_, err := ReadThrough(context.Background(), sc, key, "", func(context.Context) ([]string, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, mr.Keys())
}

func TestReadThrough_RedisDownFallsBack(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	sc := NewSharedCache(NewCacheFromClient(client))

	key := ks.MustKeyFor(ks.Colleges, nil)
	v, err := ReadThrough(context.Background(), sc, key, "", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestReadThrough_NilCache(t *testing.T) {
	v, err := ReadThrough(context.Background(), nil, ks.Root(), "", func(context.Context) (string, error) { return "x", nil })
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestPurgePrefix(t *testing.T) {
	sc, mr := newTestShared(t)
	ctx := context.Background()

	keys := []ks.QueryKey{
		ks.MustKeyFor(ks.Courses, ks.Params{ks.ParamDivisionID: "divA"}),
		ks.MustKeyFor(ks.Courses, ks.Params{ks.ParamDivisionID: "divB"}),
		ks.MustKeyFor(ks.Exams, ks.Params{ks.ParamSemesterID: "sem1"}),
	}
	for _, k := range keys {
		require.NoError(t, sc.Store(ctx, k, "", "v"))
	}
	require.NoError(t, sc.Store(ctx, ks.MustKeyFor(ks.MyExamResults, nil), "stu-1", "v"))
	require.NoError(t, sc.Store(ctx, ks.MustKeyFor(ks.MyExamResults, nil), "stu-2", "v"))
	require.NoError(t, sc.cache.Set(ctx, `qc:["coursesX"]`, "other", time.Minute))

	n, err := sc.PurgePrefix(ctx, ks.MustKeyFor(ks.Courses, ks.Params{ks.ParamDivisionID: "divA"}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists(`qc:["courses","divB"]`))

	n, err = sc.PurgePrefix(ctx, ks.FromTokens("courses"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, mr.Exists(`qc:["coursesX"]`))

	n, err = sc.PurgePrefix(ctx, ks.MustKeyFor(ks.MyExamResults, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "every actor partition is purged")
	assert.True(t, mr.Exists(`qc:["exams","sem1"]`))
}

func TestPurger(t *testing.T) {
	sc, mr := newTestShared(t)
	ctx := context.Background()
	key := ks.MustKeyFor(ks.Enrollments, ks.Params{ks.ParamCourseID: "c1"})
	require.NoError(t, sc.Store(ctx, key, "", []string{"s1"}))

	p := sc.Purger()
	assert.Equal(t, "l2-purge", p.Name())
	require.NoError(t, p.Purge(ctx, []ks.QueryKey{key}))
	assert.False(t, mr.Exists(`qc:["enrollments","c1"]`))
}

func TestReadThrough_FetchAcrossPurgeNotStored(t *testing.T) {
	sc, mr := newTestShared(t)
	ctx := context.Background()
	key := ks.MustKeyFor(ks.Exams, ks.Params{ks.ParamSemesterID: "sem1"})

	v, err := ReadThrough(ctx, sc, key, "", func(ctx context.Context) (string, error) {
		_, err := sc.PurgePrefix(ctx, ks.FromTokens("exams"))
		return "before-write", err
	})
	require.NoError(t, err)
	assert.Equal(t, "before-write", v)
	assert.False(t, mr.Exists(`qc:["exams","sem1"]`))

	_, err = ReadThrough(ctx, sc, key, "", func(context.Context) (string, error) { return "after-write", nil })
	require.NoError(t, err)
	assert.True(t, mr.Exists(`qc:["exams","sem1"]`))
}

func TestMutate_ReadDuringInvalidationSkipsOldSnapshot(t *testing.T) {
	sc, _ := newTestShared(t)
	ctx := context.Background()
	key := ks.MustKeyFor(ks.Exams, ks.Params{ks.ParamSemesterID: "sem1"})

	backend := "v1"
	fetcher := func(ctx context.Context) (any, error) {
		return ReadThrough(ctx, sc, key, "", func(context.Context) (string, error) { return backend, nil })
	}

	coord := fetch.NewCoordinator(store.New())
	t.Cleanup(coord.Wait)
	var duringMutate any
	concurrentRead := mutation.HookFunc{HookName: "concurrent-read", Fn: func(ctx context.Context, _ mutation.Invalidation) error {
		v, err := coord.Read(ctx, key, fetcher)
		duringMutate = v
		return err
	}}
	d := mutation.NewDispatcher(coord, scope.NewResolver(nil),
		mutation.WithPurgers(sc.Purger()),
		mutation.WithHooks(concurrentRead),
	)

	v, err := coord.Read(ctx, key, fetcher)
	require.NoError(t, err)
	require.Equal(t, "v1", v)

	res := d.Mutate(ctx, mutation.Mutation{
		Entity: scope.Exam,
		Op:     shared.OpUpdate,
		Params: ks.Params{ks.ParamSemesterID: "sem1", ks.ParamID: "e1"},
		Exec: func(context.Context) (any, error) {
			backend = "v2"
			return nil, nil
		},
	})
	require.True(t, res.IsOk())
	assert.Equal(t, "v2", duringMutate)

	v, err = coord.Read(ctx, key, fetcher)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	// A second session starting from an empty local cache sees the write too.
	other := fetch.NewCoordinator(store.New())
	v, err = other.Read(ctx, key, fetcher)
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}
