package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"beacon/internal/analytics"
	"beacon/internal/analytics/handler"
	"beacon/internal/analytics/service"
	httpapi "beacon/internal/http"
	jwttoken "beacon/internal/jwt_token"
	"beacon/internal/kv"
	"beacon/internal/platform/config"
	"beacon/internal/platform/httpserver"
	"beacon/internal/platform/logger"
	"beacon/internal/platform/metrics"
	"beacon/internal/platform/middleware"
	"beacon/internal/platform/redis"
	"beacon/internal/ratelimit"
	"beacon/internal/tracker"
	"beacon/internal/tracker/clickhouse"
	"beacon/internal/tracker/kafka"
	"beacon/internal/tracker/measurement"
	"beacon/pkg/platform/circuit"
)

// sweepInterval is how often expired entries are purged from stores that do not
// expire keys on their own.
const sweepInterval = 5 * time.Minute

// storage is the wired key/value layer plus what shutdown and health need.
type storage struct {
	profiles kv.Store
	sessions kv.Store
	// redis is set when the redis backend is selected; the rate limiter shares it.
	redis    *redis.Client
	checks   map[string]httpapi.HealthCheck
	sweepers []func(ctx context.Context) error
	closers  []func(ctx context.Context) error
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "beacon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := openStorage(ctx, cfg, log, reg)
	if err != nil {
		return err
	}

	lazy := tracker.NewLazy(trackerLoader(cfg, log),
		tracker.WithLoadTimeout(cfg.Tracker.LoadTimeout),
		tracker.WithPendingLimit(cfg.Tracker.PendingLimit),
		tracker.WithLogger(log),
		tracker.WithMetrics(tracker.NewMetrics(reg)),
	)

	svc := service.New(store.profiles, store.sessions, lazy, service.Config{
		MeasurementID: cfg.Tracker.MeasurementID,
		PageViewCap:   cfg.Buffer.PageViewCap,
		EventCap:      cfg.Buffer.EventCap,
	}, log, analytics.NewMetrics(reg))

	limiter := rateLimiter(cfg, store, log, ratelimit.NewMetrics(reg))

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:   log,
		Gatherer: reg,
		Tokens:   jwttoken.NewJWTService(cfg.Server.ScopeSigningKey, "beacon"),
		Scope: middleware.ScopeOptions{
			ProfileTTL: cfg.Server.ProfileTTL,
			Secure:     cfg.Server.SecureCookies,
		},
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Checks:        store.checks,
		Scoped: []httpapi.Registrar{
			handler.New(svc, log, metrics.New(reg), handler.Options{
				Debug:      cfg.Server.Debug,
				AdminToken: cfg.Server.AdminToken,
				Timeout:    cfg.Server.RequestTimeout,
				RateLimit:  limiter,
			}),
		},
	})
	srv := httpserver.New(cfg.Server, router, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting beacon",
			"addr", cfg.Server.Addr,
			"storage", cfg.Storage.Backend,
			"trackers", cfg.Tracker.Backends,
			"debug", cfg.Server.Debug,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, sweep := range store.sweepers {
		g.Go(func() error {
			runSweeper(gctx, sweep, log)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		log.Info("shutting down")
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("graceful shutdown failed: %w", err))
		}
		// Flush whatever the tracker still holds before storage goes away.
		if err := lazy.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close tracker: %w", err))
		}
		for _, closeFn := range store.closers {
			if err := closeFn(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// openStorage connects the configured backend and wraps both scopes in the
// resilient fallback. The session scope expires after SessionTTL of inactivity.
func openStorage(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer) (*storage, error) {
	s := &storage{checks: map[string]httpapi.HealthCheck{}}
	m := kv.NewMetrics(reg)
	sessionTTL := kv.WithTTL(cfg.Storage.SessionTTL)

	var profiles, sessions kv.Store
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		client.RegisterPoolMetrics(reg)
		s.redis = client
		profiles = kv.NewRedis(client.Client)
		sessions = kv.NewRedis(client.Client, sessionTTL)
		s.checks["redis"] = client.Health
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })

	case config.StoragePostgres:
		db, err := sql.Open(cfg.Storage.PostgresDriver, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pgProfiles := kv.NewPostgres(db)
		if err := pgProfiles.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		pgSessions := kv.NewPostgres(db, sessionTTL)
		profiles, sessions = pgProfiles, pgSessions
		s.checks["postgres"] = db.PingContext
		s.sweepers = append(s.sweepers, func(ctx context.Context) error {
			_, err := pgSessions.PurgeExpired(ctx)
			return err
		})
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })

	case config.StorageMongo:
		client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.Storage.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		db := client.Database(cfg.Storage.MongoDB)
		mgProfiles := kv.NewMongo(db)
		if err := mgProfiles.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		profiles = mgProfiles
		sessions = kv.NewMongo(db, sessionTTL)
		s.checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
		s.closers = append(s.closers, client.Disconnect)

	default:
		memProfiles := kv.NewMemoryStore()
		memSessions := kv.NewMemoryStore(sessionTTL)
		s.profiles, s.sessions = memProfiles, memSessions
		s.sweepers = append(s.sweepers, func(ctx context.Context) error {
			memSessions.Sweep(time.Now())
			return nil
		})
		return s, nil
	}

	// One breaker for both scopes: they share the backend, so they share its outages.
	breaker := circuit.New("kv-"+cfg.Storage.Backend,
		circuit.WithFailureThreshold(cfg.Storage.FailureThreshold),
		circuit.WithCooldown(cfg.Storage.FallbackCooldown),
	)
	s.profiles = kv.NewResilient(profiles, breaker, kv.WithLogger(log), kv.WithMetrics(m))
	s.sessions = kv.NewResilient(sessions, breaker, kv.WithLogger(log), kv.WithMetrics(m),
		kv.WithFallback(kv.NewMemoryStore(sessionTTL)))
	return s, nil
}

// rateLimiter picks the limiter store: redis when it is already connected so all
// instances share counters, otherwise process memory.
func rateLimiter(cfg config.Config, s *storage, log *slog.Logger, m *ratelimit.Metrics) *ratelimit.Middleware {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	var store ratelimit.Store
	if s.redis != nil {
		store = ratelimit.NewRedisStore(s.redis.Client)
	} else {
		mem := ratelimit.NewMemoryStore()
		s.sweepers = append(s.sweepers, func(context.Context) error {
			mem.Sweep(time.Now())
			return nil
		})
		store = mem
	}
	return ratelimit.New(store, map[ratelimit.Class]ratelimit.Limit{
		ratelimit.ClassTrack:   {Requests: cfg.RateLimit.TrackPerMinute, Window: time.Minute},
		ratelimit.ClassConsent: {Requests: cfg.RateLimit.ConsentPerMinute, Window: time.Minute},
	}, log, m)
}

// trackerLoader builds the loader for the configured backends. Nothing connects
// until the first visitor grants consent.
func trackerLoader(cfg config.Config, log *slog.Logger) tracker.Loader {
	var loaders []tracker.Loader
	for _, backend := range cfg.Tracker.Backends {
		switch backend {
		case config.TrackerMeasurement:
			loaders = append(loaders, measurement.Loader(measurement.Config{
				Endpoint:      cfg.Tracker.CollectURL,
				MeasurementID: cfg.Tracker.MeasurementID,
				APISecret:     cfg.Tracker.CollectSecret,
				BatchSize:     cfg.Tracker.CollectBatch,
				FlushInterval: cfg.Tracker.FlushInterval,
			}, &http.Client{Timeout: 10 * time.Second}, log))
		case config.TrackerKafka:
			loaders = append(loaders, kafka.Loader(kafka.Config{
				Brokers: cfg.Tracker.KafkaBrokers,
				Topic:   cfg.Tracker.KafkaTopic,
			}, log))
		case config.TrackerClickHouse:
			loaders = append(loaders, clickhouse.Loader(clickhouse.Config{
				Addr:     cfg.Tracker.ClickHouseAddr,
				Database: cfg.Tracker.ClickHouseDatabase,
				Username: cfg.Tracker.ClickHouseUser,
				Password: cfg.Tracker.ClickHousePassword,
			}, log))
		}
	}
	return tracker.MultiLoader(loaders...)
}

func runSweeper(ctx context.Context, sweep func(ctx context.Context) error, log *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweep(ctx); err != nil {
				log.WarnContext(ctx, "storage sweep failed", "error", err)
			}
		}
	}
}
