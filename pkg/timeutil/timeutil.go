// Package timeutil provides the clock abstraction used for cache freshness
// and the calendar helpers used by attendance keys.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ═══════════════════════════════════════════════════════════════════════════════

// Clock tells the time. The cache store and fetch coordinator never call
// time.Now directly so staleness can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock that only moves when told to. Safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock set to start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════════
// CALENDAR
// ═══════════════════════════════════════════════════════════════════════════════

// DateLayout is the layout of attendance dates inside query keys.
const DateLayout = "2006-01-02"

// CampusTZ is the timezone attendance days are counted in. Overridden from
// config at startup via SetCampusTimezone.
var CampusTZ = time.UTC

// SetCampusTimezone loads an IANA zone name and makes it the campus zone.
func SetCampusTimezone(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	CampusTZ = loc
	return nil
}

// DateKey formats t as the campus-local calendar day.
func DateKey(t time.Time) string {
	return t.In(CampusTZ).Format(DateLayout)
}

// ParseDateKey parses a DateKey back into midnight campus time.
func ParseDateKey(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, CampusTZ)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeutil: invalid date %q: %w", s, err)
	}
	return t, nil
}

// NormalizeDateKey accepts either a DateKey or an RFC 3339 timestamp and
// returns the DateKey. Attendance payloads arrive in both shapes.
func NormalizeDateKey(s string) (string, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateKey(t), nil
	}
	t, err := ParseDateKey(s)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

// Age returns how long ago t was according to clock, never negative.
func Age(clock Clock, t time.Time) time.Duration {
	d := clock.Now().Sub(t)
	if d < 0 {
		return 0
	}
	return d
}
