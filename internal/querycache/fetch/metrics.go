package fetch

import "time"

// Metrics receives read-path measurements. Labels are key families
// (the first key token) to keep cardinality bounded.
type Metrics interface {
	CacheHit(family string)
	CacheMiss(family string)
	StaleServed(family string)
	DedupJoined(family string)
	FetchCompleted(family string, d time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) CacheHit(string)                             {}
func (noopMetrics) CacheMiss(string)                            {}
func (noopMetrics) StaleServed(string)                          {}
func (noopMetrics) DedupJoined(string)                          {}
func (noopMetrics) FetchCompleted(string, time.Duration, error) {}
