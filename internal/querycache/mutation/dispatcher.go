// Package mutation executes writes and brings every cached view they touch
// back in line with the backend.
//
// The cache is only touched after the backend confirms the write. A failed
// write leaves every entry exactly as it was.
package mutation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/querycache/fetch"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/scope"
	"github.com/campus-hub/querysync/pkg/logger"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

// Mutation describes one write.
type Mutation struct {
	Entity scope.Entity
	Op     shared.Op

	// Params carries the scope fields of the written record, e.g.
	// departmentId and academicYearId of a semester.
	Params ks.Params

	// Exec performs the write and returns the backend's answer.
	Exec func(ctx context.Context) (any, error)

	// ScopeFromResult extracts scope fields from the write's answer, e.g.
	// the id the backend assigned. They override Params.
	ScopeFromResult func(result any) ks.Params
}

// RecordID returns the id of the written record, if known.
func (m Mutation) RecordID() string { return m.Params.Get(ks.ParamID) }

// Invalidation is what a committed write invalidated.
type Invalidation struct {
	Entity   scope.Entity
	Op       shared.Op
	RecordID string
	// Prefixes are the resolved invalidation keys.
	Prefixes []ks.QueryKey
	// Affected are the local entries that were marked stale.
	Affected []ks.QueryKey
}

// Purger clears another cache layer (the shared L2) under the resolved
// prefixes. Purgers run before local entries are marked stale, so a read
// triggered by the invalidation cannot load the pre-write snapshot back.
// A purge error is logged; the write stays committed.
type Purger interface {
	Name() string
	Purge(ctx context.Context, prefixes []ks.QueryKey) error
}

// PurgerFunc adapts a function to Purger.
type PurgerFunc struct {
	PurgerName string
	Fn         func(ctx context.Context, prefixes []ks.QueryKey) error
}

func (p PurgerFunc) Name() string { return p.PurgerName }

func (p PurgerFunc) Purge(ctx context.Context, prefixes []ks.QueryKey) error {
	return p.Fn(ctx, prefixes)
}

// Hook runs after local invalidation and before the eager refetch, e.g. to
// broadcast the invalidation to other instances. A hook error is logged;
// the write stays committed.
type Hook interface {
	Name() string
	AfterInvalidate(ctx context.Context, inv Invalidation) error
}

// HookFunc adapts a function to Hook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, inv Invalidation) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) AfterInvalidate(ctx context.Context, inv Invalidation) error {
	return h.Fn(ctx, inv)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithTracer sets the tracer for mutation spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithClock sets the clock used for latency measurements.
func WithClock(c timeutil.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithHooks appends invalidation hooks. They run in the given order.
func WithHooks(hooks ...Hook) Option {
	return func(d *Dispatcher) {
		d.hooks = append(d.hooks, hooks...)
	}
}

// WithPurgers appends purgers. They run in the given order.
func WithPurgers(purgers ...Purger) Option {
	return func(d *Dispatcher) {
		d.purgers = append(d.purgers, purgers...)
	}
}

// Dispatcher executes mutations.
type Dispatcher struct {
	coord    *fetch.Coordinator
	resolver *scope.Resolver
	purgers  []Purger
	hooks    []Hook
	log      *logger.Logger
	metrics  Metrics
	tracer   trace.Tracer
	clock    timeutil.Clock
}

// NewDispatcher creates a Dispatcher that invalidates through coord.
func NewDispatcher(coord *fetch.Coordinator, resolver *scope.Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		coord:    coord,
		resolver: resolver,
		log:      logger.Nop(),
		metrics:  noopMetrics{},
		tracer:   noop.NewTracerProvider().Tracer("querysync/mutation"),
		clock:    timeutil.SystemClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.resolver == nil {
		d.resolver = scope.NewResolver(d.log)
	}
	d.log = d.log.With(logger.Component("mutation-dispatcher"))
	return d
}

// AddHook registers a hook after construction, e.g. once the broadcast bus
// is connected.
func (d *Dispatcher) AddHook(h Hook) {
	d.hooks = append(d.hooks, h)
}

// AddPurger registers a purger after construction.
func (d *Dispatcher) AddPurger(p Purger) {
	d.purgers = append(d.purgers, p)
}

// Mutate executes m once and, if the backend confirms it, purges the
// affected views from other cache layers, invalidates them locally, runs
// the hooks and waits for subscribed views to be refetched. Writes are
// never retried.
func (d *Dispatcher) Mutate(ctx context.Context, m Mutation) shared.Result[any] {
	ctx, span := d.tracer.Start(ctx, "querysync.mutate", trace.WithAttributes(
		attribute.String("mutation.entity", string(m.Entity)),
		attribute.String("mutation.op", string(m.Op)),
	))
	defer span.End()

	start := d.clock.Now()
	log := d.log.With(logger.Entity(string(m.Entity)), logger.Op(string(m.Op)))

	if m.Exec == nil {
		err := &shared.MutationError{Entity: string(m.Entity), Op: string(m.Op), Cause: shared.ErrInvalidInput}
		d.metrics.MutationCompleted(string(m.Entity), string(m.Op), 0, err)
		return shared.Err[any](err)
	}

	data, err := m.Exec(ctx)
	if err != nil {
		merr := &shared.MutationError{Entity: string(m.Entity), Op: string(m.Op), Cause: err}
		d.metrics.MutationCompleted(string(m.Entity), string(m.Op), d.clock.Now().Sub(start), merr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Info("mutation rejected", logger.Err(err))
		return shared.Err[any](merr)
	}

	params := m.Params
	if m.ScopeFromResult != nil {
		params = params.Merge(m.ScopeFromResult(data))
	}
	res := d.resolve(ctx, m, params)
	d.runPurgers(ctx, res.Keys, log)
	inv := d.invalidate(m, params, res)
	span.SetAttributes(attribute.Int("mutation.invalidated", len(inv.Affected)))

	d.runHooks(ctx, inv, log)

	if err := d.coord.RefetchSubscribed(ctx, inv.Affected); err != nil {
		// The write is committed; views that failed to refetch show their error state.
		log.Warn("eager refetch failed", logger.Err(err))
	}

	latency := d.clock.Now().Sub(start)
	d.metrics.MutationCompleted(string(m.Entity), string(m.Op), latency, nil)
	log.Debug("mutation committed", logger.InvalidatedCount(len(inv.Affected)), logger.Latency(latency))
	return shared.Ok(data)
}

func (d *Dispatcher) resolve(ctx context.Context, m Mutation, params ks.Params) scope.Resolution {
	res := d.resolver.Resolve(m.Entity, m.Op, params)
	if len(res.Fallbacks) > 0 {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("mutation.scope_fallbacks", len(res.Fallbacks)))
	}
	return res
}

func (d *Dispatcher) runPurgers(ctx context.Context, prefixes []ks.QueryKey, log *logger.Logger) {
	for _, p := range d.purgers {
		if err := p.Purge(ctx, prefixes); err != nil {
			log.Warn("cache purge failed", logger.String("purger", p.Name()), logger.Err(err))
		}
	}
}

func (d *Dispatcher) invalidate(m Mutation, params ks.Params, res scope.Resolution) Invalidation {
	affected := d.coord.Invalidate(res.Keys...)
	d.metrics.Invalidated(string(m.Entity), len(affected))

	return Invalidation{
		Entity:   m.Entity,
		Op:       m.Op,
		RecordID: params.Get(ks.ParamID),
		Prefixes: res.Keys,
		Affected: affected,
	}
}

func (d *Dispatcher) runHooks(ctx context.Context, inv Invalidation, log *logger.Logger) {
	for _, h := range d.hooks {
		if err := h.AfterInvalidate(ctx, inv); err != nil {
			log.Warn("invalidation hook failed", logger.String("hook", h.Name()), logger.Err(err))
		}
	}
}

// ApplyRemote invalidates prefixes announced by another instance and
// refetches the subscribed keys among them. Hooks are not run: the
// originating instance already ran them.
func (d *Dispatcher) ApplyRemote(ctx context.Context, prefixes []ks.QueryKey) error {
	affected := d.coord.Invalidate(prefixes...)
	d.metrics.Invalidated("remote", len(affected))
	if len(affected) == 0 {
		return nil
	}
	return d.coord.RefetchSubscribed(ctx, affected)
}

// Run is Mutate with a typed answer.
func Run[T any](ctx context.Context, d *Dispatcher, m Mutation) shared.Result[T] {
	return shared.MapResult(d.Mutate(ctx, m), func(v any) (T, error) {
		if v == nil {
			var zero T
			return zero, nil
		}
		t, ok := v.(T)
		if !ok {
			var zero T
			return zero, errors.New("mutation: unexpected result type")
		}
		return t, nil
	})
}

// Metrics receives mutation measurements.
type Metrics interface {
	MutationCompleted(entity, op string, d time.Duration, err error)
	Invalidated(entity string, n int)
}

type noopMetrics struct{}

func (noopMetrics) MutationCompleted(string, string, time.Duration, error) {}
func (noopMetrics) Invalidated(string, int)                                {}
