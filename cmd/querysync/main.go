// Command querysync runs a query cache node: the academic backend
// transport, the hierarchical query cache, the optional shared Redis
// snapshot cache with cross-instance invalidation, and the operations
// HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/campus-hub/querysync/config"
	"github.com/campus-hub/querysync/internal/domain/shared"
	"github.com/campus-hub/querysync/internal/infrastructure/messaging"
	"github.com/campus-hub/querysync/internal/infrastructure/observability"
	"github.com/campus-hub/querysync/internal/infrastructure/persistence/postgres"
	qredis "github.com/campus-hub/querysync/internal/infrastructure/persistence/redis"
	"github.com/campus-hub/querysync/internal/infrastructure/scheduler"
	"github.com/campus-hub/querysync/internal/infrastructure/scheduler/jobs"
	"github.com/campus-hub/querysync/internal/infrastructure/transport"
	"github.com/campus-hub/querysync/internal/infrastructure/transport/memory"
	"github.com/campus-hub/querysync/internal/infrastructure/transport/rest"
	httpserver "github.com/campus-hub/querysync/internal/interface/http"
	"github.com/campus-hub/querysync/internal/interface/http/handlers"
	"github.com/campus-hub/querysync/internal/querycache/fetch"
	"github.com/campus-hub/querysync/internal/querycache/mutation"
	"github.com/campus-hub/querysync/internal/querycache/scope"
	"github.com/campus-hub/querysync/internal/querycache/store"
	"github.com/campus-hub/querysync/pkg/circuitbreaker"
	"github.com/campus-hub/querysync/pkg/logger"
	"github.com/campus-hub/querysync/pkg/retry"
	"github.com/campus-hub/querysync/pkg/timeutil"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:      os.Stdout,
		Level:       logger.ParseLevel(cfg.Observability.LogLevel),
		AddCaller:   true,
		Development: cfg.Observability.LogFormat == "console",
	}).With(logger.String("instance", config.Hostname()))
	defer func() { _ = log.Sync() }()

	log.Info("starting querysync",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("backend", cfg.Transport.Backend),
		logger.String("toggles", cfg.Toggles.String()),
	)

	if err := timeutil.SetCampusTimezone(cfg.App.Timezone); err != nil {
		return fmt.Errorf("campus timezone: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. METRICS AND TRACING
	// ─────────────────────────────────────────────────────────────────────────
	metrics := observability.NewCollector(cfg.Observability.MetricsNamespace)

	tp, err := observability.InitTracing(observability.TracingConfig{
		ServiceName: cfg.App.Name,
		Environment: string(cfg.App.Environment),
		Exporter:    cfg.Observability.TracingExporter,
		SampleRate:  cfg.Observability.TracingSampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", logger.Err(err))
		}
	}()

	health := handlers.NewHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. BACKEND TRANSPORT
	// ─────────────────────────────────────────────────────────────────────────
	var backend transport.Transport
	switch cfg.Transport.Backend {
	case config.BackendPostgres:
		conn, err := connectDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database connection")
			conn.Close()
		}()
		health.AddCheck("postgres", conn.Check)
		backend = postgres.NewBackend(conn)
	case config.BackendREST:
		client, err := rest.New(rest.Config{
			BaseURL:   cfg.Transport.BaseURL,
			Token:     cfg.Transport.Token,
			Timeout:   cfg.Transport.Timeout,
			RateLimit: cfg.Transport.RateLimit,
			Burst:     int(cfg.Transport.RateLimit) + 1,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		backend = client
	default:
		log.Warn("using the in-memory backend; data is lost on exit")
		backend = memory.New()
	}

	breaker := circuitbreaker.New("academic-backend",
		circuitbreaker.WithFailureThreshold(cfg.Transport.BreakerThreshold),
		circuitbreaker.WithMaxHalfOpenRequests(1),
		circuitbreaker.WithTimeout(cfg.Transport.BreakerTimeout),
		circuitbreaker.WithIsFailure(transport.IsBackendFailure),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
	)
	tr := transport.NewBreaker(backend, breaker)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. QUERY CACHE
	// ─────────────────────────────────────────────────────────────────────────
	st := store.New(store.WithIdleCapacity(cfg.Query.IdleCapacity), store.WithLogger(log))

	coord := fetch.NewCoordinator(st,
		fetch.WithConfig(fetch.Config{
			StaleTime:            cfg.Query.StaleTime,
			Retry:                cfg.Query.Retry,
			RefetchOnWindowFocus: cfg.Toggles.IsEnabled(config.ToggleRefetchOnWindowFocus),
			RefetchOnReconnect:   cfg.Toggles.IsEnabled(config.ToggleRefetchOnReconnect),
			RefetchConcurrency:   cfg.Query.RefetchConcurrency,
		}),
		fetch.WithMetrics(metrics),
		fetch.WithTracer(tp.Tracer()),
		fetch.WithLogger(log),
	)

	dispatcher := mutation.NewDispatcher(coord, scope.NewResolver(log),
		mutation.WithMetrics(metrics),
		mutation.WithTracer(tp.Tracer()),
		mutation.WithLogger(log),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SHARED CACHE AND BROADCAST (REDIS)
	// ─────────────────────────────────────────────────────────────────────────
	var bus messaging.Bus

	if cfg.Redis.Enabled {
		cache, err := qredis.NewCache(qredis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   3,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolTimeout:  cfg.Redis.ReadTimeout + time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer func() {
			log.Info("closing redis connection")
			_ = cache.Close()
		}()
		health.AddCheck("redis", handlers.NewPingCheck(cache))

		if cfg.Toggles.IsEnabled(config.ToggleSharedCache) {
			l2 := qredis.NewSharedCache(cache,
				qredis.WithTTL(cfg.Redis.SharedCacheTTL),
				qredis.WithLogger(log),
			)
			dispatcher.AddPurger(l2.Purger())
			log.Info("shared snapshot cache enabled", logger.Duration("ttl", cfg.Redis.SharedCacheTTL))
		}

		if cfg.Toggles.IsEnabled(config.ToggleBroadcast) {
			redisBus, err := newRedisBus(cache.Client(), cfg, log)
			if err != nil {
				return err
			}
			bus = redisBus
		}
	}
	if bus == nil {
		bus = messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
			AsyncMode:      true,
			WorkerPoolSize: 4,
			Logger:         log,
		})
	}
	defer func() { _ = bus.Close() }()

	if cfg.Toggles.IsEnabled(config.ToggleBroadcast) {
		dispatcher.AddHook(messaging.BroadcastHook(bus))
	}

	events := messaging.NewDispatcher(messaging.DispatcherConfig{Bus: bus, Logger: log})
	events.Use(messaging.RecoveryMiddleware(log))
	events.Use(messaging.LoggingMiddleware(log))
	if err := events.Register(shared.EventQueryInvalidated, "remote-invalidation", messaging.InvalidationHandler(dispatcher, log)); err != nil {
		return fmt.Errorf("register invalidation handler: %w", err)
	}
	for _, et := range []shared.EventType{shared.EventMutationCommitted, shared.EventMutationFailed} {
		if err := events.Register(et, "audit", messaging.AuditHandler(log)); err != nil {
			return fmt.Errorf("register audit handler: %w", err)
		}
	}
	if err := events.Start(); err != nil {
		return fmt.Errorf("start event dispatcher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. BACKGROUND REFRESH
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Query.RefreshInterval > 0 {
		sched = scheduler.New(scheduler.Config{Logger: log})
		job := jobs.NewRefreshStaleJob(coord, cfg.Query.RefreshInterval)
		if err := sched.Register(job, scheduler.Every(cfg.Query.RefreshInterval)); err != nil {
			return fmt.Errorf("register refresh job: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. OPERATIONS HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	var server *httpserver.Server
	var serverErr <-chan error
	if cfg.HTTP.Enabled {
		server = httpserver.NewServer(httpserver.Config{
			Host:             cfg.HTTP.Host,
			Port:             cfg.HTTP.Port,
			ReadTimeout:      cfg.HTTP.ReadTimeout,
			WriteTimeout:     cfg.HTTP.WriteTimeout,
			IdleTimeout:      cfg.HTTP.IdleTimeout,
			EnableMetrics:    cfg.HTTP.EnableMetrics,
			EnableCacheDebug: cfg.HTTP.EnableCacheDebug,
		}, httpserver.Dependencies{
			Logger:      log,
			Health:      health,
			Registry:    metrics.Registry(),
			Store:       st,
			Invalidator: dispatcher,
		})
		serverErr = server.StartAsync()
	}

	log.Info("querysync is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok && err != nil {
			log.Error("http server failed", logger.Err(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown failed", logger.Err(err))
		}
	}
	if sched != nil {
		_ = sched.Stop()
	}
	coord.Wait()

	log.Info("querysync stopped")
	return nil
}

// connectDatabase opens the pool with retries and applies pending
// migrations when enabled.
func connectDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = cfg.Database.MaxConns
	pgCfg.MinConns = cfg.Database.MinConns
	pgCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout

	log.Info("connecting to database")
	var conn *postgres.Connection
	err := retry.DatabaseRetrier().Do(ctx, func(ctx context.Context) error {
		c, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			log.Warn("database connection attempt failed", logger.Err(err))
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database migrations applied")
	}
	return conn, nil
}

func newRedisBus(client *goredis.Client, cfg *config.Config, log *logger.Logger) (*messaging.RedisEventBus, error) {
	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:      messaging.NewGoRedisClient(client),
		ChannelName: cfg.Redis.Channel,
		LocalBusConfig: messaging.InMemoryEventBusConfig{
			AsyncMode:      true,
			WorkerPoolSize: 4,
			Logger:         log,
		},
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis event bus: %w", err)
	}
	log.Info("invalidation broadcast enabled",
		logger.String("channel", cfg.Redis.Channel),
		logger.String("instance_id", bus.InstanceID()),
	)
	return bus, nil
}
