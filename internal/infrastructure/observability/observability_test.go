package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/querycache/fetch"
	"github.com/campus-hub/querysync/internal/querycache/mutation"
)

var (
	_ fetch.Metrics    = (*Collector)(nil)
	_ mutation.Metrics = (*Collector)(nil)
)

func TestCollector_ReadPath(t *testing.T) {
	c := NewCollector("qs")
	c.CacheHit("courses")
	c.CacheHit("courses")
	c.CacheMiss("exams")
	c.StaleServed("courses")
	c.DedupJoined("exams")
	c.FetchCompleted("exams", 10*time.Millisecond, nil)
	c.FetchCompleted("exams", 10*time.Millisecond, errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.CacheHits.WithLabelValues("courses")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheMisses.WithLabelValues("exams")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StaleReads.WithLabelValues("courses")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DedupJoins.WithLabelValues("exams")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FetchFailures.WithLabelValues("exams")))
}

func TestCollector_WritePath(t *testing.T) {
	c := NewCollector("qs")
	c.MutationCompleted("enrollment", "create", time.Millisecond, nil)
	c.MutationCompleted("enrollment", "create", time.Millisecond, &shared.MutationError{Cause: shared.ErrDuplicateEnrollment})
	c.Invalidated("enrollment", 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Mutations.WithLabelValues("enrollment", "create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Mutations.WithLabelValues("enrollment", "create", "conflict")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Invalidations.WithLabelValues("enrollment")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector("qs"), NewCollector("qs")
	a.CacheHit("x")
	assert.Zero(t, testutil.ToFloat64(b.CacheHits.WithLabelValues("x")))
}

func TestInitTracing_Stdout(t *testing.T) {
	var buf bytes.Buffer
	tp, err := InitTracing(TracingConfig{Exporter: ExporterStdout, Writer: &buf})
	require.NoError(t, err)

	_, span := tp.Tracer().Start(context.Background(), "querysync.read")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "querysync.read")
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	_, err := InitTracing(TracingConfig{Exporter: "jaeger"})
	assert.Error(t, err)
}
