package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	"github.com/campus-hub/querysync/internal/querycache/fetch"
	"github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/store"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL + "/api/v1")
	cfg.Token = "secret"
	cfg.RateLimit = 0
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGet_UnwrapsListEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/academic-years", r.URL.Path)
		assert.Equal(t, "c1", r.URL.Query().Get("collegeId"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"data":   map[string]any{"academicYears": []any{map[string]any{"id": "ay1", "year": "2024-2025"}}},
		})
	})

	data, err := transport.Get(context.Background(), c, transport.ResourceAcademicYears, map[string]string{"collegeId": "c1"})
	require.NoError(t, err)
	rows, ok := data.([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "ay1", rows[0].(map[string]any)["id"])
}

func TestGetByID_AndPlainBodies(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/c%2F1", r.URL.EscapedPath())
		writeJSON(w, http.StatusOK, map[string]any{"id": "c/1", "divisionId": "divA"})
	})

	data, err := transport.GetByID(context.Background(), c, transport.ResourceCourses, "c/1")
	require.NoError(t, err)
	assert.Equal(t, "divA", data.(map[string]any)["divisionId"])
}

func TestPost_SendsBodyAndMapsConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "s1", body["studentId"])
		writeJSON(w, http.StatusConflict, map[string]any{"status": "fail", "message": "Student is already enrolled"})
	})

	_, err := transport.Post(context.Background(), c, transport.ResourceEnrollments, map[string]any{"studentId": "s1"})
	require.Error(t, err)
	assert.True(t, shared.IsAlreadyExists(err))
	assert.Contains(t, err.Error(), "already enrolled")
}

func TestStatusMapping(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:   shared.ErrValidation,
		http.StatusUnauthorized: shared.ErrUnauthorized,
		http.StatusForbidden:    shared.ErrForbidden,
		http.StatusNotFound:     shared.ErrNotFound,
	}
	for status, want := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, status, map[string]any{"status": "fail", "message": "nope"})
		})
		_, err := transport.Delete(context.Background(), c, transport.ResourceExams, "e1")
		assert.ErrorIs(t, err, want, "status %d", status)
	}
}

func TestGet_SentOnce(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "message": "warming up"})
	})

	_, err := transport.Get(context.Background(), c, transport.ResourceSemesters, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), "warming up")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoordinatorRead_OneRetryPerFailedRead(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "message": "down"})
	})
	coord := fetch.NewCoordinator(store.New())
	key := keyspace.MustKeyFor(keyspace.Colleges, nil)

	start := time.Now()
	_, err := coord.Read(context.Background(), key, func(ctx context.Context) (any, error) {
		return transport.Get(ctx, c, transport.ResourceColleges, nil)
	})

	var ferr *shared.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 2, ferr.Attempts)
	assert.Equal(t, int32(2), calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestWrites_AreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := transport.Patch(context.Background(), c, transport.ResourceExams, "e1", map[string]any{"isPublished": true})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.True(t, transport.IsBackendFailure(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDelete_NoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	data, err := transport.Delete(context.Background(), c, transport.ResourceCourses, "c1")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.RateLimit = 1
	cfg.Burst = 1
	c, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = transport.Get(ctx, c, transport.ResourceColleges, nil)
	require.NoError(t, err)
	_, err = transport.Get(ctx, c, transport.ResourceColleges, nil)
	assert.Error(t, err, "second call exceeds the per-second budget within the deadline")
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New(DefaultConfig("not a url"))
	assert.Error(t, err)
}
