// Package jobs contains the background jobs of a querysync node.
package jobs

import (
	"context"
	"time"
)

// StaleRefresher refetches stale subscribed views. *fetch.Coordinator
// implements it.
type StaleRefresher interface {
	RefetchStale(ctx context.Context) error
}

// RefreshStaleJob keeps subscribed views warm between user interactions.
type RefreshStaleJob struct {
	refresher StaleRefresher
	timeout   time.Duration
}

// NewRefreshStaleJob creates the job. Each run is bounded by timeout
// (default 30s).
func NewRefreshStaleJob(r StaleRefresher, timeout time.Duration) *RefreshStaleJob {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RefreshStaleJob{refresher: r, timeout: timeout}
}

func (j *RefreshStaleJob) Name() string { return "refresh_stale" }

func (j *RefreshStaleJob) Description() string {
	return "Refetch subscribed views whose data is stale or failed"
}

// Run implements scheduler.Job.
func (j *RefreshStaleJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	return j.refresher.RefetchStale(ctx)
}
