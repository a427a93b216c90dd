package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-hub/querysync/internal/querycache/fetch"
	"github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/store"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

func TestRefreshStaleJob(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC))
	coord := fetch.NewCoordinator(store.New(store.WithClock(clock)), fetch.WithClock(clock))
	t.Cleanup(coord.Wait)

	key := keyspace.MustKeyFor(keyspace.Semesters, keyspace.Params{keyspace.ParamDepartmentID: "d1", keyspace.ParamAcademicYearID: "ay1"})
	var calls atomic.Int32
	sub := coord.Observe(context.Background(), key, func(context.Context) (any, error) {
		return int(calls.Add(1)), nil
	}, nil)
	defer sub.Unmount()
	coord.Wait()

	job := NewRefreshStaleJob(coord, 0)
	assert.Equal(t, "refresh_stale", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, int32(1), calls.Load(), "fresh views are not refetched")

	clock.Advance(coord.Config().StaleTime)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}
