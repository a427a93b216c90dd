package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

var (
	semD1Y1  = keyspace.MustKeyFor(keyspace.Semesters, keyspace.Params{keyspace.ParamDepartmentID: "d1", keyspace.ParamAcademicYearID: "y1"})
	semD1Y2  = keyspace.MustKeyFor(keyspace.Semesters, keyspace.Params{keyspace.ParamDepartmentID: "d1", keyspace.ParamAcademicYearID: "y2"})
	semD2Y1  = keyspace.MustKeyFor(keyspace.Semesters, keyspace.Params{keyspace.ParamDepartmentID: "d2", keyspace.ParamAcademicYearID: "y1"})
	coursesA = keyspace.MustKeyFor(keyspace.Courses, keyspace.Params{keyspace.ParamDivisionID: "divA"})
)

func newTestStore(t *testing.T) (*Store, *timeutil.ManualClock) {
	t.Helper()
	clock := timeutil.NewManualClock(time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC))
	return New(WithClock(clock)), clock
}

func TestStore_SetGet(t *testing.T) {
	s, clock := newTestStore(t)

	s.Set(semD1Y1, []string{"S1"})
	s.Set(keyspace.FromTokens(semD1Y1.Tokens()...), []string{"S1", "S2"})

	e, ok := s.Get(semD1Y1)
	require.True(t, ok)
	assert.Equal(t, 1, s.Len(), "structurally equal keys share one entry")
	assert.Equal(t, []string{"S1", "S2"}, e.Data)
	assert.Equal(t, StatusFresh, e.Status)
	assert.Equal(t, clock.Now(), e.FetchedAt)

	_, ok = s.Get(semD2Y1)
	assert.False(t, ok)
	assert.False(t, s.Has(semD2Y1))
}

func TestStore_MarkStaleKeepsData(t *testing.T) {
	s, _ := newTestStore(t)
	s.Set(semD1Y1, "data")

	assert.True(t, s.MarkStale(semD1Y1))
	assert.False(t, s.MarkStale(semD2Y1))

	e, _ := s.Get(semD1Y1)
	assert.Equal(t, StatusStale, e.Status)
	assert.True(t, e.Invalidated)
	assert.True(t, e.HasData)
	assert.Equal(t, "data", e.Data)
}

func TestStore_InvalidatePrefix(t *testing.T) {
	s, _ := newTestStore(t)
	for _, k := range []keyspace.QueryKey{semD1Y1, semD1Y2, semD2Y1, coursesA} {
		s.Set(k, k.Hash())
	}

	got := s.InvalidatePrefix(keyspace.FromTokens("semesters", "d1"))
	assert.Equal(t, []keyspace.QueryKey{semD1Y1, semD1Y2}, got)

	for _, tc := range []struct {
		key  keyspace.QueryKey
		want Status
	}{
		{semD1Y1, StatusStale},
		{semD1Y2, StatusStale},
		{semD2Y1, StatusFresh},
		{coursesA, StatusFresh},
	} {
		e, _ := s.Get(tc.key)
		assert.Equal(t, tc.want, e.Status, tc.key.Hash())
	}

	all := s.InvalidatePrefix(keyspace.Root())
	assert.Len(t, all, 4)
}

func TestStore_FetchStartedBeforeInvalidationStaysStale(t *testing.T) {
	s, _ := newTestStore(t)

	old := s.BeginFetch(semD1Y1)
	e, _ := s.Get(semD1Y1)
	assert.Equal(t, StatusFetching, e.Status)
	assert.True(t, e.IsLoading())

	s.InvalidatePrefix(keyspace.EntityRoot(keyspace.Semesters))
	newer := s.BeginFetch(semD1Y1)

	assert.False(t, s.CompleteFetch(semD1Y1, old, "pre-mutation"))
	e, _ = s.Get(semD1Y1)
	assert.Equal(t, StatusFetching, e.Status, "newer fetch still running")
	assert.Equal(t, "pre-mutation", e.Data)

	assert.True(t, s.CompleteFetch(semD1Y1, newer, "post-mutation"))
	e, _ = s.Get(semD1Y1)
	assert.Equal(t, StatusFresh, e.Status)
	assert.False(t, e.Invalidated)
	assert.Equal(t, "post-mutation", e.Data)
}

func TestStore_OlderResultNeverOverwritesNewer(t *testing.T) {
	s, _ := newTestStore(t)

	old := s.BeginFetch(coursesA)
	s.MarkStale(coursesA)
	newer := s.BeginFetch(coursesA)

	assert.True(t, s.CompleteFetch(coursesA, newer, "new"))
	assert.False(t, s.CompleteFetch(coursesA, old, "old"))

	e, _ := s.Get(coursesA)
	assert.Equal(t, "new", e.Data)
	assert.Equal(t, StatusFresh, e.Status)
}

func TestStore_FailFetch(t *testing.T) {
	s, _ := newTestStore(t)
	s.Set(coursesA, "last-known")
	s.MarkStale(coursesA)

	tok := s.BeginFetch(coursesA)
	boom := errors.New("boom")
	s.FailFetch(coursesA, tok, boom)

	e, _ := s.Get(coursesA)
	assert.Equal(t, StatusError, e.Status)
	assert.Same(t, boom, e.Err)
	assert.Equal(t, "last-known", e.Data)

	s.MarkStale(coursesA)
	e, _ = s.Get(coursesA)
	assert.Equal(t, StatusStale, e.Status)
	assert.NoError(t, e.Err)
}

func TestStore_SubscribeNotifiesAndEvicts(t *testing.T) {
	s, _ := newTestStore(t)

	var (
		mu   sync.Mutex
		seen []Status
	)
	unsub := s.Subscribe(coursesA, func(e Entry) {
		mu.Lock()
		seen = append(seen, e.Status)
		mu.Unlock()
	})
	second := s.Subscribe(coursesA, nil)

	tok := s.BeginFetch(coursesA)
	s.CompleteFetch(coursesA, tok, "rows")
	s.MarkStale(coursesA)

	assert.Equal(t, []Status{StatusFetching, StatusFresh, StatusStale}, seen)
	assert.Equal(t, []keyspace.QueryKey{coursesA}, s.Subscribed(keyspace.Root()))

	unsub()
	unsub()
	assert.True(t, s.Has(coursesA), "one subscriber left")

	second()
	assert.False(t, s.Has(coursesA), "last unsubscribe evicts")
	assert.Empty(t, s.Subscribed(keyspace.Root()))
}

func TestStore_UnsubscribeAfterResetIsNoop(t *testing.T) {
	s, _ := newTestStore(t)

	stale := s.Subscribe(coursesA, nil)
	s.Reset()

	current := s.Subscribe(coursesA, nil)
	s.Set(coursesA, "rows")

	stale()
	assert.True(t, s.Has(coursesA))
	assert.Equal(t, []keyspace.QueryKey{coursesA}, s.Subscribed(keyspace.Root()))

	current()
	assert.False(t, s.Has(coursesA))
}

func TestStore_IdleEntriesBounded(t *testing.T) {
	s := New(WithIdleCapacity(2))
	pinned := s.Subscribe(coursesA, nil)
	defer pinned()

	s.Set(semD1Y1, 1)
	s.Set(semD1Y2, 2)
	s.Set(semD2Y1, 3)

	assert.False(t, s.Has(semD1Y1), "least recently used idle entry evicted")
	assert.True(t, s.Has(semD1Y2))
	assert.True(t, s.Has(semD2Y1))
	assert.True(t, s.Has(coursesA), "subscribed entries are never idle-evicted")
}

func TestStore_ResetDiscardsInFlightResults(t *testing.T) {
	s, _ := newTestStore(t)
	tok := s.BeginFetch(coursesA)

	s.Reset()
	assert.Equal(t, 0, s.Len())

	assert.False(t, s.CompleteFetch(coursesA, tok, "previous actor's data"))
	assert.False(t, s.Has(coursesA))
}

func TestStore_RecreatedEntryAfterInvalidationIsNotFresh(t *testing.T) {
	s, _ := newTestStore(t)
	tok := s.BeginFetch(coursesA)

	s.Remove(coursesA)
	s.InvalidatePrefix(keyspace.Root())

	assert.False(t, s.CompleteFetch(coursesA, tok, "maybe outdated"))
	e, ok := s.Get(coursesA)
	require.True(t, ok)
	assert.Equal(t, StatusStale, e.Status)
}

func TestStore_Snapshot(t *testing.T) {
	s, clock := newTestStore(t)
	s.Set(semD2Y1, 1)
	s.Set(coursesA, 2)
	clock.Advance(time.Minute)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.True(t, snap[0].Key.Equal(coursesA))
	assert.Equal(t, time.Minute, snap[0].Age(clock.Now()))
}
