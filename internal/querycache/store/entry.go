package store

import (
	"time"

	"github.com/campus-hub/querysync/internal/querycache/keyspace"
)

// Status is the lifecycle state of a cache entry.
type Status string

const (
	// StatusFresh means the data was fetched after the last invalidation.
	StatusFresh Status = "fresh"
	// StatusStale means the data (if any) must be refetched before it can be
	// trusted. Entries without data start out stale.
	StatusStale Status = "stale"
	// StatusFetching means at least one fetch is in flight.
	StatusFetching Status = "fetching"
	// StatusError means the last fetch failed after retries. Previously
	// fetched data is kept.
	StatusError Status = "error"
)

// Entry is a point-in-time copy of a cache entry. Mutating it has no effect
// on the store.
type Entry struct {
	Key       keyspace.QueryKey `json:"key"`
	Data      any               `json:"data,omitempty"`
	HasData   bool              `json:"has_data"`
	FetchedAt time.Time         `json:"fetched_at,omitempty"`
	Status    Status            `json:"status"`
	Err       error             `json:"-"`
	// Invalidated is set by a mutation and cleared by the first fetch that
	// started after it.
	Invalidated bool `json:"invalidated"`
	// Generation changes on every invalidation of this entry.
	Generation  uint64 `json:"generation"`
	Subscribers int    `json:"subscribers"`
}

// Age returns how old the data is at now. Entries without data report zero.
func (e Entry) Age(now time.Time) time.Duration {
	if !e.HasData || now.Before(e.FetchedAt) {
		return 0
	}
	return now.Sub(e.FetchedAt)
}

// IsLoading reports whether a fetch is in flight and nothing can be shown yet.
func (e Entry) IsLoading() bool {
	return e.Status == StatusFetching && !e.HasData
}

// entry is the mutable record held under the store mutex.
type entry struct {
	key       keyspace.QueryKey
	data      any
	hasData   bool
	fetchedAt time.Time
	status    Status
	err       error

	// invalidatedSeq is the store sequence of the last invalidation.
	invalidatedSeq uint64
	// dataSeq is the fetch token that produced the current data.
	dataSeq uint64
	// createdSeq is the store sequence when the entry was created.
	createdSeq  uint64
	invalidated bool
	inflight    int
	refs        int
}

func (e *entry) snapshot() Entry {
	return Entry{
		Key:         e.key,
		Data:        e.data,
		HasData:     e.hasData,
		FetchedAt:   e.fetchedAt,
		Status:      e.status,
		Err:         e.err,
		Invalidated: e.invalidated,
		Generation:  e.invalidatedSeq,
		Subscribers: e.refs,
	}
}

// settle picks the resting status once no fetch is running.
func (e *entry) settle() {
	if e.inflight > 0 {
		e.status = StatusFetching
		return
	}
	if e.status == StatusFetching {
		e.status = StatusStale
	}
}
