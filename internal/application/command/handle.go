// Package command contains the write operations of the platform. Every
// write goes through a Handle, which validates the request, executes it
// once through the mutation dispatcher and reports its lifecycle the way
// an interactive screen needs it: pending, data, error and callbacks.
package command

import (
	"context"
	"sync"

	"github.com/campus-hub/querysync/internal/domain/academic"
	"github.com/campus-hub/querysync/internal/domain/auth"
	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/mutation"
	"github.com/campus-hub/querysync/internal/querycache/scope"
	"github.com/campus-hub/querysync/pkg/logger"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event shared.Event) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLE
// ══════════════════════════════════════════════════════════════════════════════

// State is the lifecycle of the last write started through a Handle.
type State[T any] struct {
	IsPending bool
	Data      T
	Err       error
}

// Handle runs one kind of write. It is safe for concurrent use; State
// reflects the most recently started write.
type Handle[Req academic.Scoped, T any] struct {
	d      *mutation.Dispatcher
	entity scope.Entity
	op     shared.Op
	exec   func(ctx context.Context, req Req) (any, error)
	events EventPublisher
	log    *logger.Logger

	// OnSuccess is called after the write committed and subscribed views
	// were refetched.
	OnSuccess func(data T, req Req)
	// OnError is called when validation or the backend rejected the write.
	OnError func(err error, req Req)

	mu    sync.Mutex
	seq   uint64
	state State[T]
}

// Mutate validates req and executes it. Validation failures never reach
// the backend. The returned error is always a *shared.MutationError.
func (h *Handle[Req, T]) Mutate(ctx context.Context, req Req) (T, error) {
	var zero T
	n := h.begin()

	if err := academic.Validate(req); err != nil {
		merr := &shared.MutationError{Entity: string(h.entity), Op: string(h.op), Cause: err}
		h.settle(ctx, n, req, zero, merr, "")
		return zero, merr
	}

	params := ks.Params(req.Scope())
	res := h.d.Mutate(ctx, mutation.Mutation{
		Entity: h.entity,
		Op:     h.op,
		Params: params,
		Exec: func(ctx context.Context) (any, error) {
			return h.exec(ctx, req)
		},
		ScopeFromResult: scopeFromRecord,
	})

	raw, err := res.Unwrap()
	if err != nil {
		h.settle(ctx, n, req, zero, err, params.Get(ks.ParamID))
		return zero, err
	}

	data, err := transport.Decode[T](raw)
	if err != nil {
		// The write is committed; only the answer could not be read.
		h.log.Warn("undecodable mutation answer", logger.Entity(string(h.entity)), logger.Err(err))
	}
	h.settle(ctx, n, req, data, nil, recordID(raw, params))
	return data, nil
}

// State returns the lifecycle of the latest write.
func (h *Handle[Req, T]) State() State[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Reset clears the state.
func (h *Handle[Req, T]) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.state = State[T]{}
}

func (h *Handle[Req, T]) begin() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.state = State[T]{IsPending: true}
	return h.seq
}

// settle records the outcome, unless a later write has started since.
func (h *Handle[Req, T]) settle(ctx context.Context, n uint64, req Req, data T, err error, id string) {
	h.mu.Lock()
	if n == h.seq {
		h.state = State[T]{Data: data, Err: err}
	}
	h.mu.Unlock()

	h.publish(ctx, id, err)

	if err != nil {
		if h.OnError != nil {
			h.OnError(err, req)
		}
		return
	}
	if h.OnSuccess != nil {
		h.OnSuccess(data, req)
	}
}

func (h *Handle[Req, T]) publish(ctx context.Context, id string, err error) {
	if h.events == nil {
		return
	}
	actor := ""
	if a, ok := auth.FromContext(ctx); ok {
		actor = a.ID
	}
	ev := shared.NewMutationEvent(string(h.entity), string(h.op), id, actor, err)
	if perr := h.events.Publish(ctx, ev); perr != nil {
		h.log.Warn("failed to publish mutation event", logger.Entity(string(h.entity)), logger.Err(perr))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCOPE
// ══════════════════════════════════════════════════════════════════════════════

// scopeParams are the record fields that key cached views.
var scopeParams = []string{
	ks.ParamID,
	ks.ParamCollegeID,
	ks.ParamDepartmentID,
	ks.ParamAcademicYearID,
	ks.ParamSemesterID,
	ks.ParamSemesterNumber,
	ks.ParamDivisionID,
	ks.ParamCourseID,
	ks.ParamExamID,
	ks.ParamStudentID,
	ks.ParamDate,
}

// scopeFromRecord reads the scope fields of the backend's answer. Dates
// come back as timestamps and are reduced to the day keys views use; a
// date that cannot be read leaves the request's date in place.
func scopeFromRecord(result any) ks.Params {
	fields, err := transport.ToFields(result)
	if err != nil {
		return nil
	}
	out := make(ks.Params, len(scopeParams))
	for _, name := range scopeParams {
		v := transport.FieldString(fields[name])
		if v == "" {
			continue
		}
		if name == ks.ParamDate {
			if v, err = timeutil.NormalizeDateKey(v); err != nil {
				continue
			}
		}
		out[name] = v
	}
	return out
}

func recordID(result any, params ks.Params) string {
	if id := scopeFromRecord(result).Get(ks.ParamID); id != "" {
		return id
	}
	return params.Get(ks.ParamID)
}
