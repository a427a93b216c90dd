package fetch

import (
	"time"
)

// Config controls freshness, retries and reactive refetching.
type Config struct {
	// StaleTime is how long fetched data is served without a backend call.
	StaleTime time.Duration

	// Retry is the number of extra attempts after a failed fetch. Retries
	// happen immediately.
	Retry int

	// RefetchOnWindowFocus refetches stale subscribed keys when the client
	// regains focus.
	RefetchOnWindowFocus bool

	// RefetchOnReconnect refetches stale subscribed keys after the network
	// comes back.
	RefetchOnReconnect bool

	// RefetchConcurrency bounds parallel eager refetches.
	RefetchConcurrency int
}

// DefaultConfig returns the platform defaults: five minutes of freshness,
// one retry, no focus refetch, refetch on reconnect.
func DefaultConfig() Config {
	return Config{
		StaleTime:            5 * time.Minute,
		Retry:                1,
		RefetchOnWindowFocus: false,
		RefetchOnReconnect:   true,
		RefetchConcurrency:   8,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.StaleTime < 0 {
		c.StaleTime = 0
	}
	if c.Retry < 0 {
		c.Retry = 0
	}
	if c.RefetchConcurrency <= 0 {
		c.RefetchConcurrency = d.RefetchConcurrency
	}
	return c
}
