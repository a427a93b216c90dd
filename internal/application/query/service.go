// Package query contains the cached read operations of the platform. Every
// operation is a View: a canonical query key plus the typed fetch that
// fills it. Views are read once with Read or kept live with Observe.
package query

import (
	"context"
	"sync"

	"github.com/campus-hub/querysync/internal/domain/auth"
	"github.com/campus-hub/querysync/internal/domain/shared"
	qredis "github.com/campus-hub/querysync/internal/infrastructure/persistence/redis"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	"github.com/campus-hub/querysync/internal/querycache/fetch"
	ks "github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Service builds views for one session. The session's actor decides
// between "my" views and by-id views; switching actors clears the cache.
type Service struct {
	coord *fetch.Coordinator
	tp    transport.Transport
	l2    *qredis.SharedCache
	log   *logger.Logger

	mu    sync.RWMutex
	actor auth.Actor
}

// Option configures a Service.
type Option func(*Service)

// WithSharedCache reads through the shared Redis cache.
func WithSharedCache(c *qredis.SharedCache) Option {
	return func(s *Service) { s.l2 = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithActor sets the initial actor.
func WithActor(a auth.Actor) Option {
	return func(s *Service) { s.actor = a }
}

// NewService creates a Service reading through coord and tp.
func NewService(coord *fetch.Coordinator, tp transport.Transport, opts ...Option) *Service {
	s := &Service{coord: coord, tp: tp, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("query"))
	return s
}

// Coordinator returns the coordinator views are read through.
func (s *Service) Coordinator() *fetch.Coordinator { return s.coord }

// Actor returns the session actor.
func (s *Service) Actor() auth.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actor
}

// SwitchActor changes the session actor. Cached views of the previous
// actor are dropped together with their subscriptions.
func (s *Service) SwitchActor(a auth.Actor) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	changed := s.actor != a
	s.actor = a
	s.mu.Unlock()

	if changed {
		s.coord.Reset()
		s.log.Info("session actor switched", logger.Actor(a.ID), logger.Role(string(a.Role)))
	}
	return nil
}

// student returns the student profile id of the session actor, or an
// error for actors without one.
func (s *Service) student(op string) (auth.Actor, error) {
	a := s.Actor()
	if err := a.Validate(); err != nil {
		return a, err
	}
	if !a.IsStudent() || a.StudentID == "" {
		return a, shared.NewDomainError("query", op, shared.ErrForbidden, "only students have personal views")
	}
	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// VIEWS
// ══════════════════════════════════════════════════════════════════════════════

// View is a cached read.
type View[T any] struct {
	Key   ks.QueryKey
	fetch func(ctx context.Context) (T, error)
}

// Fetch calls the backend directly, bypassing the cache.
func (v View[T]) Fetch(ctx context.Context) (T, error) { return v.fetch(ctx) }

// Read returns the view's data, fetching when it is missing or
// invalidated and serving stale data while a refresh runs.
func Read[T any](ctx context.Context, s *Service, v View[T]) (T, error) {
	return fetch.ReadAs(ctx, s.coord, v.Key, v.fetch)
}

// Observe mounts the view. onChange receives every state change until the
// subscription is unmounted.
func Observe[T any](ctx context.Context, s *Service, v View[T], onChange func(fetch.QueryState)) *fetch.Subscription {
	return s.coord.Observe(ctx, v.Key, func(ctx context.Context) (any, error) {
		return v.fetch(ctx)
	}, onChange)
}

// newView builds a view whose fetch goes through the shared cache.
func newView[T any](s *Service, et ks.EntityType, params ks.Params, fetchFn func(ctx context.Context) (T, error)) (View[T], error) {
	key, err := ks.KeyFor(et, params)
	if err != nil {
		return View[T]{}, err
	}
	partition := ""
	if key.IsPersonal() {
		partition = s.Actor().ID
	}
	return View[T]{
		Key: key,
		fetch: func(ctx context.Context) (T, error) {
			return qredis.ReadThrough(ctx, s.l2, key, partition, fetchFn)
		},
	}, nil
}

// list fetches a filtered collection of resource.
func list[T any](s *Service, resource string, query map[string]string) func(ctx context.Context) ([]T, error) {
	return func(ctx context.Context) ([]T, error) {
		data, err := transport.Get(ctx, s.tp, resource, query)
		if err != nil {
			return nil, err
		}
		return transport.Decode[[]T](data)
	}
}

// one fetches a single record of resource.
func one[T any](s *Service, resource, id string) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		data, err := transport.GetByID(ctx, s.tp, resource, id)
		if err != nil {
			var zero T
			return zero, err
		}
		return transport.Decode[T](data)
	}
}

// listView is the common case: a collection filtered by the key's params.
func listView[T any](s *Service, et ks.EntityType, resource string, params ks.Params) (View[[]T], error) {
	query := make(map[string]string, len(params))
	for _, name := range ks.ParamsOf(et) {
		query[name] = params.Get(name)
	}
	return newView(s, et, params, list[T](s, resource, query))
}
