package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRetrier_RetriesOnceWithoutDelay(t *testing.T) {
	var calls int
	var retried []int
	r := FetchRetrier(1, func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
		assert.Zero(t, delay)
	})

	boom := errors.New("backend unavailable")
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int{1}, retried)
}

func TestFetchRetrier_SecondAttemptSucceeds(t *testing.T) {
	var calls int
	v, err := DoWithData(context.Background(), FetchRetrier(1, nil), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestFetchRetrier_RetriesTransportTimeout(t *testing.T) {
	var calls int
	err := FetchRetrier(1, nil).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("GET /courses: %w", context.DeadlineExceeded)
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, calls)
}

func TestFetchRetrier_CancellationIsNotRetried(t *testing.T) {
	var calls int
	err := FetchRetrier(1, nil).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetrier_PermanentStopsImmediately(t *testing.T) {
	var calls int
	denied := errors.New("forbidden")
	err := FetchRetrier(3, nil).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(denied)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, denied, err)
}

func TestRetrier_DefaultOnlyRetriesMarked(t *testing.T) {
	var calls int
	r := New(WithMaxAttempts(3), WithInitialDelay(0))
	_ = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("plain")
	})
	assert.Equal(t, 1, calls)

	calls = 0
	_ = r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errors.New("marked"))
	})
	assert.Equal(t, 3, calls)
}

func TestRetrier_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := FetchRetrier(1, nil).Do(ctx, func(ctx context.Context) error {
		t.Fatal("operation must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelay_Capped(t *testing.T) {
	r := New(WithInitialDelay(time.Second), WithMaxDelay(3*time.Second), WithJitter(0))
	assert.Equal(t, time.Second, r.calculateDelay(1))
	assert.Equal(t, 2*time.Second, r.calculateDelay(2))
	assert.Equal(t, 3*time.Second, r.calculateDelay(5))
}
