// Package app wires the acteezer server runtime: config, logging, stores, the participation
// engine, notification dispatch and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"acteezer/cmd/internal/api"
	"acteezer/cmd/internal/directory"
	"acteezer/cmd/internal/metrics"
	"acteezer/cmd/internal/notify"
	"acteezer/cmd/internal/participation"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Store is a small app-level lifecycle abstraction so DB-backed resources close gracefully.
type Store interface {
	Close(ctx context.Context) error
}

type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// stores groups the persistence the engine needs. The mem* fields are set only in
// in-memory mode so tests and local runs can seed data.
type stores struct {
	lifecycle Store
	pool      *pgxpool.Pool

	participants participation.Store
	profiles     participation.ProfileSource
	records      notify.RecordStore
	prefs        notify.PreferenceStore
	tokens       notify.TokenStore
	inbox        api.Inbox

	memActivities *participation.MemoryStore
	memProfiles   *directory.MemoryStore
}

// App is the acteezer server runtime.
type App struct {
	cfg Config
	log Logger

	st         stores
	metrics    *metrics.Registry
	hub        *notify.Hub
	dispatcher *notify.Dispatcher
	service    *participation.Service
	api        *api.Handler
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	ctx := context.Background()

	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, log, st)
	if err != nil {
		_ = st.lifecycle.Close(ctx)
		return nil, err
	}
	return a, nil
}

func wire(cfg Config, log Logger, st stores) (*App, error) {
	reg := metrics.New()
	hub := notify.NewHub(log.With("component", "hub"))

	loc, err := time.LoadLocation(strings.TrimSpace(cfg.DefaultTimeZone))
	if err != nil {
		log.Warn("config.timezone.invalid", "time_zone", cfg.DefaultTimeZone, "err", err)
		loc = time.UTC
	}

	dispatcher, err := notify.NewDispatcher(st.records, st.prefs, st.tokens, newPushGateway(cfg, log),
		notify.WithHub(hub),
		notify.WithObserver(reg),
		notify.WithLogger(log.With("component", "notify")),
		notify.WithLocation(loc),
		notify.WithLanguage(cfg.NotifyLanguage),
		notify.WithPushTimeout(nonZeroDuration(cfg.PushTimeout, 10*time.Second)),
		notify.WithAsyncPush(cfg.PushWorkers),
	)
	if err != nil {
		return nil, err
	}

	svc, err := participation.NewService(st.participants, st.profiles,
		participation.WithNotifier(dispatcher),
		participation.WithObserver(reg),
		participation.WithLogger(log.With("component", "participation")),
	)
	if err != nil {
		return nil, err
	}

	handler := api.NewHandler(log.With("component", "api"), api.Config{
		MaxBodyBytes:   cfg.MaxBodyBytes,
		JoinRateEvents: cfg.JoinRateEvents,
		JoinRateWindow: cfg.JoinRateWindow,
		Stream: api.StreamConfig{
			AllowedOrigins:    cfg.CORSAllowedOrigins,
			QueueSize:         cfg.StreamQueue,
			HeartbeatInterval: cfg.StreamHeartbeat,
		},
	}, svc, st.inbox, hub, api.WithRateObserver(reg))

	return &App{
		cfg:        cfg,
		log:        log,
		st:         st,
		metrics:    reg,
		hub:        hub,
		dispatcher: dispatcher,
		service:    svc,
		api:        handler,
	}, nil
}

// Handler returns the full middleware-wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.st.pool, a.metrics, a.api)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server fails.
// On the way out it drains in-flight pushes and closes the stores.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.st.pool != nil, "push_workers", a.cfg.PushWorkers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
		if werr := a.dispatcher.Wait(shutdownCtx); werr != nil {
			a.log.Warn("notify.drain.timeout", "err", werr)
		}
		if cerr := a.st.lifecycle.Close(shutdownCtx); cerr != nil {
			a.log.Error("store.close.fail", "err", cerr)
		}
		return err
	})

	err := g.Wait()
	if err == nil {
		a.log.Info("server.stopped")
	}
	return err
}

func newPushGateway(cfg Config, log Logger) notify.PushGateway {
	url := strings.TrimSpace(cfg.PushURL)
	if url == "" || strings.EqualFold(url, "log") {
		log.Info("push.gateway.log_only")
		return notify.LogGateway{Log: log.With("component", "push")}
	}
	return notify.NewExpoGateway(url, nonZeroDuration(cfg.PushTimeout, 10*time.Second),
		notify.WithAccessToken(cfg.PushAccessToken),
	)
}

// newStores decides between Postgres-backed persistence and the in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return newMemoryStores(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, err
	}
	if cfg.DBMigrate {
		if err := Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return stores{}, err
		}
	}

	participants, err := participation.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	profiles, err := directory.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}
	notes, err := notify.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}

	log.Info("db.enabled.postgres_store")
	return stores{
		lifecycle:    dbStore{pool: pool},
		pool:         pool,
		participants: participants,
		profiles:     profiles,
		records:      notes,
		prefs:        notes,
		tokens:       notes,
		inbox:        notes,
	}, nil
}

func newMemoryStores() stores {
	participants := participation.NewMemoryStore()
	profiles := directory.NewMemoryStore()
	notes := notify.NewMemoryStore()
	return stores{
		lifecycle:     nopStore{},
		participants:  participants,
		profiles:      profiles,
		records:       notes,
		prefs:         notes,
		tokens:        notes,
		inbox:         notes,
		memActivities: participants,
		memProfiles:   profiles,
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
