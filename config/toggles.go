package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Toggles are named runtime switches. Each one can be set through the
// environment: refetch.window_focus reads QUERYSYNC_TOGGLES_REFETCH_WINDOW_FOCUS.
type Toggles struct {
	mu      sync.RWMutex
	toggles map[string]*Toggle
}

// Toggle is a single named switch.
type Toggle struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined toggle names.
const (
	// Refetch stale subscribed views when the client window regains focus.
	ToggleRefetchOnWindowFocus = "refetch.window_focus"
	// Refetch stale subscribed views after the network comes back.
	ToggleRefetchOnReconnect = "refetch.reconnect"
	// Publish committed mutations to other instances.
	ToggleBroadcast = "broadcast.invalidations"
	// Read through the Redis snapshot cache before the backend.
	ToggleSharedCache = "cache.shared"
)

// ErrUnknownToggle is returned by Set for names that were never declared.
var ErrUnknownToggle = errors.New("unknown toggle")

type toggleDefault struct {
	description string
	enabled     bool
}

var defaultToggles = map[string]toggleDefault{
	ToggleRefetchOnWindowFocus: {"Refetch stale views on window focus", false},
	ToggleRefetchOnReconnect:   {"Refetch stale views on reconnect", true},
	ToggleBroadcast:            {"Broadcast invalidations to other instances", true},
	ToggleSharedCache:          {"Serve snapshots from the shared Redis cache", true},
}

func toggleKey(name string) string {
	return "toggles." + name
}

// NewToggles returns the toggles at their defaults.
func NewToggles() *Toggles {
	t := &Toggles{toggles: make(map[string]*Toggle, len(defaultToggles))}
	for name, d := range defaultToggles {
		t.toggles[name] = &Toggle{Name: name, Description: d.description, Enabled: d.enabled}
	}
	return t
}

func loadToggles(v *viper.Viper) *Toggles {
	t := NewToggles()
	for name, tg := range t.toggles {
		tg.Enabled = v.GetBool(toggleKey(name))
	}
	return t
}

// IsEnabled reports whether the toggle is on. Unknown names are off.
func (t *Toggles) IsEnabled(name string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	tg, ok := t.toggles[name]
	return ok && tg.Enabled
}

// Set flips a declared toggle.
func (t *Toggles) Set(name string, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tg, ok := t.toggles[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToggle, name)
	}
	tg.Enabled = enabled
	return nil
}

// All returns a copy of every toggle, sorted by name.
func (t *Toggles) All() []Toggle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Toggle, 0, len(t.toggles))
	for _, tg := range t.toggles {
		out = append(out, *tg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// String renders the enabled toggles, e.g. for a startup log line.
func (t *Toggles) String() string {
	var on []string
	for _, tg := range t.All() {
		if tg.Enabled {
			on = append(on, tg.Name)
		}
	}
	return strings.Join(on, ",")
}
