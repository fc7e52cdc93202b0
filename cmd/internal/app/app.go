// Package app wires the Sodia server runtime: config, logging, storage,
// the authentication gate and the HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sasha-gershtein/Sodia/cmd/identity"
	authapi "github.com/sasha-gershtein/Sodia/cmd/internal/auth/api"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/gate"
	"github.com/sasha-gershtein/Sodia/cmd/internal/auth/session"
	"github.com/sasha-gershtein/Sodia/cmd/security/password"
	"github.com/sasha-gershtein/Sodia/cmd/security/token"
)

// App is the Sodia server runtime: it owns the store lifecycle and HTTP wiring.
type App struct {
	cfg Config
	log Logger

	store    *backend
	registry *prometheus.Registry

	sessions *session.Service
	gate     *gate.Gate
	auth     *authapi.Handler
	cleanup  *cleanupMetrics

	closeOnce sync.Once
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	authCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	authCfg.TrustProxy = cfg.TrustProxy

	st, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := newApp(cfg, log, st, sessCfg, pwCfg, authCfg, hasher)
	if err != nil {
		st.close()
		return nil, err
	}
	return a, nil
}

func newApp(cfg Config, log Logger, st *backend, sessCfg session.Config, pwCfg password.Config, authCfg authapi.Config, hasher token.Hasher) (*App, error) {
	users, err := identity.NewService(st.identity, pwCfg, identity.WithLogger(log))
	if err != nil {
		return nil, err
	}
	sessions := session.NewService(sessCfg, st.sessions, hasher)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gateMetrics, err := gate.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	g, err := gate.New(gate.Options{
		Sessions:   sessions,
		Users:      users,
		Cookie:     cfg.Cookie(),
		TrustProxy: cfg.TrustProxy,
		Log:        log,
		Metrics:    gateMetrics,
	})
	if err != nil {
		return nil, err
	}

	auth, err := authapi.NewHandler(authCfg, authapi.Deps{
		Log:      log,
		Identity: users,
		Sessions: sessions,
		Cookie:   cfg.Cookie(),
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: reg,
		sessions: sessions,
		gate:     g,
		auth:     auth,
		cleanup:  newCleanupMetrics(reg),
	}, nil
}

// Handler returns the full middleware chain in front of the route mux.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.store, a.registry, a.auth)
	return WithRequestLogging(WithSecurityHeaders(a.gate.Middleware(mux)), a.log)
}

// Run starts the HTTP server and the session cleanup loop, and blocks until
// context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.store.name)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runSessionCleanup(loopCtx, nonZeroDuration(a.cfg.SessionCleanupInterval, 10*time.Minute))
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	stopLoop()
	wg.Wait()

	if runErr != nil {
		return runErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the store. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.store != nil && a.store.close != nil {
			a.store.close()
		}
	})
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
