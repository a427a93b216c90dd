// Package memory is an in-process academic backend. It enforces the same
// uniqueness rules as the database and is used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the clock used for record timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(b *Backend) { b.clock = c }
}

// WithIDs sets the record id generator.
func WithIDs(next func() string) Option {
	return func(b *Backend) { b.newID = next }
}

// Backend stores records as field maps, one table per resource.
type Backend struct {
	mu     sync.RWMutex
	tables map[string]*table
	clock  timeutil.Clock
	newID  func() string
	calls  map[string]int
}

type table struct {
	spec transport.ResourceSpec
	rows map[string]map[string]any
	// seq keeps list reads in insertion order.
	seq   map[string]int
	nextN int
}

// New creates an empty Backend with a table per known resource.
func New(opts ...Option) *Backend {
	b := &Backend{
		tables: make(map[string]*table),
		clock:  timeutil.SystemClock{},
		newID:  uuid.NewString,
		calls:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, spec := range transport.Resources() {
		b.tables[spec.Name] = &table{
			spec: spec,
			rows: make(map[string]map[string]any),
			seq:  make(map[string]int),
		}
	}
	return b
}

// Do implements transport.Transport.
func (b *Backend) Do(ctx context.Context, req transport.Request) transport.Response {
	if err := ctx.Err(); err != nil {
		return transport.Response{Error: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls[string(req.Method)+" "+req.Resource]++

	t, ok := b.tables[req.Resource]
	if !ok {
		return transport.Response{Error: transport.UnknownResource(req.Resource)}
	}

	var (
		data any
		err  error
	)
	switch req.Method {
	case transport.MethodGet:
		if req.ID != "" {
			data, err = t.get(req.ID)
		} else {
			data = t.list(req.Query)
		}
	case transport.MethodPost:
		data, err = b.create(t, req.Body)
	case transport.MethodPatch:
		data, err = b.update(t, req.ID, req.Body)
	case transport.MethodDelete:
		data, err = b.remove(t, req.ID)
	default:
		err = shared.NewDomainError("memory", "Do", shared.ErrInvalidInput, "unsupported method "+string(req.Method))
	}
	if err != nil {
		return transport.Response{Error: err}
	}
	return transport.Response{Data: data}
}

// Calls returns how many times method was called on resource.
func (b *Backend) Calls(method transport.Method, resource string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.calls[string(method)+" "+resource]
}

// ──────────────────────────────────────────────────────────────────────────────
// Table operations (b.mu held)
// ──────────────────────────────────────────────────────────────────────────────

func (t *table) get(id string) (map[string]any, error) {
	row, ok := t.rows[id]
	if !ok || row["isDeleted"] == true {
		return nil, shared.NewDomainError(t.spec.Name, "Get", shared.ErrNotFound, "record "+id+" not found")
	}
	return copyRow(row), nil
}

func (t *table) list(query map[string]string) []map[string]any {
	out := make([]map[string]any, 0)
	for _, row := range t.rows {
		if row["isDeleted"] == true || !matches(row, query) {
			continue
		}
		out = append(out, copyRow(row))
	}
	sort.Slice(out, func(i, j int) bool {
		return t.seq[out[i]["id"].(string)] < t.seq[out[j]["id"].(string)]
	})
	return out
}

// conflict reports whether a live row other than self has the natural key
// of fields.
func (t *table) conflict(fields map[string]any, self string) bool {
	key := t.spec.NaturalKey(fields)
	if key == "" {
		return false
	}
	for id, row := range t.rows {
		if id == self || row["isDeleted"] == true {
			continue
		}
		if t.spec.NaturalKey(row) == key {
			return true
		}
	}
	return false
}

func (b *Backend) create(t *table, body any) (map[string]any, error) {
	fields, err := transport.ToFields(body)
	if err != nil {
		return nil, err
	}
	if t.conflict(fields, "") {
		return nil, t.spec.Duplicate
	}

	now := b.clock.Now().UTC()
	id := b.newID()
	fields["id"] = id
	fields["isDeleted"] = false
	fields["createdAt"] = now.Format(time.RFC3339Nano)
	fields["updatedAt"] = now.Format(time.RFC3339Nano)

	t.rows[id] = fields
	t.nextN++
	t.seq[id] = t.nextN
	return copyRow(fields), nil
}

func (b *Backend) update(t *table, id string, body any) (map[string]any, error) {
	row, err := t.get(id)
	if err != nil {
		return nil, err
	}
	patch, err := transport.ToFields(body)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		if v == nil || k == "id" || k == "createdAt" {
			continue
		}
		row[k] = v
	}
	if t.conflict(row, id) {
		return nil, t.spec.Duplicate
	}
	row["updatedAt"] = b.clock.Now().UTC().Format(time.RFC3339Nano)
	t.rows[id] = row
	return copyRow(row), nil
}

// remove soft-deletes a record so its natural key can be reused.
func (b *Backend) remove(t *table, id string) (map[string]any, error) {
	row, err := t.get(id)
	if err != nil {
		return nil, err
	}
	row["isDeleted"] = true
	row["updatedAt"] = b.clock.Now().UTC().Format(time.RFC3339Nano)
	t.rows[id] = row
	return copyRow(row), nil
}

func matches(row map[string]any, query map[string]string) bool {
	for k, want := range query {
		if want == "" {
			continue
		}
		if transport.FieldString(row[k]) != want {
			return false
		}
	}
	return true
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
