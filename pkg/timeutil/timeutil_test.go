package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	assert.Equal(t, start, c.Now())
	c.Advance(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, Age(c, start))
	assert.Zero(t, Age(c, start.Add(time.Hour)))
}

func TestNormalizeDateKey(t *testing.T) {
	k, err := NormalizeDateKey("2024-09-02")
	require.NoError(t, err)
	assert.Equal(t, "2024-09-02", k)

	k, err = NormalizeDateKey("2024-09-02T23:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, DateKey(time.Date(2024, 9, 2, 23, 30, 0, 0, time.UTC)), k)

	k, err = NormalizeDateKey("2025-01-10T00:00:00.000Z")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-10", k)

	_, err = NormalizeDateKey("02/09/2024")
	assert.Error(t, err)
}
