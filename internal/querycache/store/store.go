// Package store holds the process-wide map from query key to cached entry.
//
// The store is the only shared mutable resource of the query cache. Every
// entry update happens inside one critical section, readers always get a
// copy, and change notifications are delivered after the lock is released.
//
// Fetch results are accepted through a token handed out by BeginFetch. A
// result whose fetch started before the entry's last invalidation is kept
// as last-known data but never marks the entry fresh, so a slow pre-mutation
// read cannot hide a write.
package store

import (
	"sort"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/pkg/logger"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultIdleCapacity bounds the number of entries without subscribers.
const DefaultIdleCapacity = 512

// Listener receives a copy of an entry after every change.
type Listener func(Entry)

// FetchToken identifies a fetch started with BeginFetch.
type FetchToken uint64

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for FetchedAt timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithIdleCapacity bounds how many unsubscribed entries are retained.
func WithIdleCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.idleCap = n
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// STORE
// ═══════════════════════════════════════════════════════════════════════════════

// Store maps query keys to entries.
type Store struct {
	clock   timeutil.Clock
	log     *logger.Logger
	idleCap int

	mu      sync.Mutex
	entries map[string]*entry
	// idle tracks entries with no subscribers in recency order.
	idle *simplelru.LRU[string, struct{}]
	// listeners per key hash, by listener id.
	listeners map[string]map[uint64]Listener
	nextID    uint64
	// seq increases on every invalidation and reset.
	seq uint64
	// resetSeq is seq at the last Reset. Tokens older than it are void.
	resetSeq uint64
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:   timeutil.SystemClock{},
		log:     logger.Nop(),
		idleCap: DefaultIdleCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("query-store"))
	s.init()
	return s
}

func (s *Store) init() {
	s.entries = make(map[string]*entry)
	s.listeners = make(map[string]map[uint64]Listener)
	idle, err := simplelru.NewLRU[string, struct{}](s.idleCap, s.onIdleEvict)
	if err != nil {
		// Only returned for a non-positive size, which WithIdleCapacity rejects.
		panic(err)
	}
	s.idle = idle
}

// onIdleEvict runs under s.mu, from inside simplelru.
func (s *Store) onIdleEvict(hash string, _ struct{}) {
	e, ok := s.entries[hash]
	if !ok || e.refs > 0 {
		return
	}
	delete(s.entries, hash)
	s.log.Debug("idle entry evicted", logger.Key(hash))
}

// touchLocked records use of an unsubscribed entry.
func (s *Store) touchLocked(hash string, e *entry) {
	if e.refs == 0 {
		s.idle.Add(hash, struct{}{})
	}
}

func (s *Store) getOrCreateLocked(key keyspace.QueryKey) (string, *entry) {
	hash := key.Hash()
	e, ok := s.entries[hash]
	if !ok {
		e = &entry{key: key, status: StatusStale, createdSeq: s.seq}
		s.entries[hash] = e
	}
	return hash, e
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Get returns a copy of the entry for key.
func (s *Store) Get(key keyspace.QueryKey) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := key.Hash()
	e, ok := s.entries[hash]
	if !ok {
		return Entry{}, false
	}
	s.touchLocked(hash, e)
	return e.snapshot(), true
}

// Has reports whether an entry exists for key.
func (s *Store) Has(key keyspace.QueryKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key.Hash()]
	return ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns copies of all entries ordered by key.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.Hash() < out[j].Key.Hash() })
	return out
}

// Subscribed returns the keys under prefix that have at least one
// subscriber, ordered by key.
func (s *Store) Subscribed(prefix keyspace.QueryKey) []keyspace.QueryKey {
	s.mu.Lock()
	var out []keyspace.QueryKey
	for _, e := range s.entries {
		if e.refs > 0 && prefix.IsAncestorOf(e.key) {
			out = append(out, e.key)
		}
	}
	s.mu.Unlock()

	sortKeys(out)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Set stores data as fresh. Calling it twice with the same key keeps one
// entry holding the latest data.
func (s *Store) Set(key keyspace.QueryKey, data any) {
	s.mu.Lock()
	hash, e := s.getOrCreateLocked(key)
	e.data = data
	e.hasData = true
	e.fetchedAt = s.clock.Now()
	e.err = nil
	e.invalidated = false
	e.dataSeq = s.seq
	e.status = StatusFresh
	e.settle()
	s.touchLocked(hash, e)
	n := s.notificationLocked(hash, e)
	s.mu.Unlock()

	n.deliver()
}

// MarkStale marks the entry for key as invalidated without dropping its
// data. It reports whether the entry existed.
func (s *Store) MarkStale(key keyspace.QueryKey) bool {
	s.mu.Lock()
	hash := key.Hash()
	e, ok := s.entries[hash]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.seq++
	s.invalidateLocked(e)
	n := s.notificationLocked(hash, e)
	s.mu.Unlock()

	n.deliver()
	return true
}

// InvalidatePrefix marks every entry whose key has prefix as an ancestor
// and returns the affected keys in order.
func (s *Store) InvalidatePrefix(prefix keyspace.QueryKey) []keyspace.QueryKey {
	s.mu.Lock()
	s.seq++
	var (
		keys  []keyspace.QueryKey
		batch notifications
	)
	for hash, e := range s.entries {
		if !prefix.IsAncestorOf(e.key) {
			continue
		}
		s.invalidateLocked(e)
		keys = append(keys, e.key)
		batch = append(batch, s.notificationLocked(hash, e)...)
	}
	s.mu.Unlock()

	batch.deliver()
	sortKeys(keys)
	if len(keys) > 0 {
		s.log.Debug("prefix invalidated", logger.Key(prefix.Hash()), logger.InvalidatedCount(len(keys)))
	}
	return keys
}

func (s *Store) invalidateLocked(e *entry) {
	e.invalidatedSeq = s.seq
	e.invalidated = true
	e.err = nil
	if e.inflight > 0 {
		e.status = StatusFetching
	} else {
		e.status = StatusStale
	}
}

// Remove drops the entry for key regardless of subscribers.
func (s *Store) Remove(key keyspace.QueryKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := key.Hash()
	delete(s.entries, hash)
	delete(s.listeners, hash)
	s.idle.Remove(hash)
}

// Reset drops every entry and listener. Results of fetches started before
// the reset are discarded.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.resetSeq = s.seq
	s.idle.Purge()
	s.entries = make(map[string]*entry)
	s.listeners = make(map[string]map[uint64]Listener)
	s.log.Info("store reset")
}

// ─────────────────────────────────────────────────────────────────────────────
// Fetch lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// BeginFetch records that a fetch for key started and returns its token.
func (s *Store) BeginFetch(key keyspace.QueryKey) FetchToken {
	s.mu.Lock()
	hash, e := s.getOrCreateLocked(key)
	e.inflight++
	e.status = StatusFetching
	s.touchLocked(hash, e)
	token := FetchToken(s.seq)
	n := s.notificationLocked(hash, e)
	s.mu.Unlock()

	n.deliver()
	return token
}

// CompleteFetch stores a fetch result. It reports whether the entry is now
// fresh; false means the result predates an invalidation and was stored as
// last-known data only, or was discarded.
func (s *Store) CompleteFetch(key keyspace.QueryKey, token FetchToken, data any) bool {
	s.mu.Lock()
	seq := uint64(token)
	if seq < s.resetSeq {
		s.mu.Unlock()
		return false
	}

	hash, e := s.getOrCreateLocked(key)
	if e.inflight > 0 {
		e.inflight--
	}

	// A newer fetch already delivered data.
	if e.hasData && seq < e.dataSeq {
		e.settle()
		n := s.notificationLocked(hash, e)
		s.mu.Unlock()
		n.deliver()
		return false
	}

	e.data = data
	e.hasData = true
	e.fetchedAt = s.clock.Now()
	e.dataSeq = seq
	e.err = nil

	// An entry recreated after the fetch started has no invalidation
	// history, so it only trusts results that are at least as new as itself.
	fresh := seq >= e.invalidatedSeq && seq >= e.createdSeq
	if fresh {
		e.invalidated = false
		e.status = StatusFresh
	} else {
		e.invalidated = true
		e.status = StatusStale
	}
	if e.inflight > 0 {
		e.status = StatusFetching
	}
	s.touchLocked(hash, e)
	n := s.notificationLocked(hash, e)
	s.mu.Unlock()

	n.deliver()
	return fresh
}

// FailFetch records a failed fetch. The error status sticks until the next
// fetch or invalidation; existing data is kept.
func (s *Store) FailFetch(key keyspace.QueryKey, token FetchToken, err error) {
	s.mu.Lock()
	seq := uint64(token)
	if seq < s.resetSeq {
		s.mu.Unlock()
		return
	}

	hash, e := s.getOrCreateLocked(key)
	if e.inflight > 0 {
		e.inflight--
	}
	switch {
	case e.inflight > 0:
		e.status = StatusFetching
	case seq < e.invalidatedSeq:
		// Superseded by an invalidation; a later read will retry.
		e.status = StatusStale
	default:
		e.status = StatusError
		e.err = err
	}
	s.touchLocked(hash, e)
	n := s.notificationLocked(hash, e)
	s.mu.Unlock()

	n.deliver()
}

// ─────────────────────────────────────────────────────────────────────────────
// Subscriptions
// ─────────────────────────────────────────────────────────────────────────────

// Subscribe registers fn for changes to key and pins the entry. The
// returned function unregisters fn; when the last subscriber of a key
// leaves, the entry is evicted. Calling it more than once is a no-op, and
// so is calling it after a Reset dropped the subscription.
func (s *Store) Subscribe(key keyspace.QueryKey, fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	hash, e := s.getOrCreateLocked(key)
	e.refs++
	// Pinned entries leave the idle list; the callback sees refs > 0.
	s.idle.Remove(hash)

	s.nextID++
	id := s.nextID
	epoch := s.resetSeq
	if s.listeners[hash] == nil {
		s.listeners[hash] = make(map[uint64]Listener)
	}
	if fn != nil {
		s.listeners[hash][id] = fn
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.release(hash, id, epoch) })
	}
}

func (s *Store) release(hash string, id, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reset already dropped this subscription; the entry under hash, if
	// any, belongs to a later one.
	if epoch != s.resetSeq {
		return
	}

	if ls, ok := s.listeners[hash]; ok {
		delete(ls, id)
		if len(ls) == 0 {
			delete(s.listeners, hash)
		}
	}

	e, ok := s.entries[hash]
	if !ok {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs == 0 {
		delete(s.entries, hash)
		s.log.Debug("entry evicted after last unsubscribe", logger.Key(hash))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Notifications
// ─────────────────────────────────────────────────────────────────────────────

type notification struct {
	entry     Entry
	listeners []Listener
}

type notifications []notification

func (s *Store) notificationLocked(hash string, e *entry) notifications {
	ls := s.listeners[hash]
	if len(ls) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(ls))
	for id := range ls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fns := make([]Listener, len(ids))
	for i, id := range ids {
		fns[i] = ls[id]
	}
	return notifications{{entry: e.snapshot(), listeners: fns}}
}

func (ns notifications) deliver() {
	for _, n := range ns {
		for _, fn := range n.listeners {
			fn(n.entry)
		}
	}
}

func sortKeys(keys []keyspace.QueryKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Hash() < keys[j].Hash() })
}
