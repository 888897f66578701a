package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/centralreports/reportd/internal/api"
	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/cache"
	"github.com/centralreports/reportd/internal/config"
	"github.com/centralreports/reportd/internal/domain"
	"github.com/centralreports/reportd/internal/leader"
	"github.com/centralreports/reportd/internal/postgres"
	"github.com/centralreports/reportd/internal/posts"
	"github.com/centralreports/reportd/internal/reaper"
	"github.com/centralreports/reportd/internal/storage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// openPool connects to Postgres with the configured pool limits.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL (database.url) is required")
	}
	pool, err := postgres.NewPool(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return nil, err
	}
	return pool, nil
}

// newReaper builds the cleanup job, or returns nil when it is disabled.
func newReaper(cfg *config.Config, pool *pgxpool.Pool) (*reaper.Reaper, error) {
	if !cfg.Reaper.Enabled {
		return nil, nil
	}
	return reaper.New(postgres.NewSessionStore(pool), postgres.NewAuditStore(pool), reaper.Config{
		Schedule:       cfg.Reaper.Schedule,
		SessionGrace:   cfg.Reaper.SessionGrace,
		AuditRetention: cfg.Reaper.AuditRetention,
	})
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := cfg.RequireServe(); err != nil {
		slog.Error("missing required configuration", "error", err)
		return err
	}
	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		pool.Close()
		slog.Info("database pool closed")
	}()

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("failed to run migrations", "error", err)
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := postgres.RegisterPoolMetrics(reg, pool); err != nil {
		slog.Warn("pool metrics disabled", "error", err)
	}

	postStore := postgres.NewPostStore(pool)
	unitStore := postgres.NewUnitStore(pool)
	accountStore := postgres.NewAccountStore(pool)
	sessionStore := postgres.NewSessionStore(pool)
	auditStore := postgres.NewAuditStore(pool)

	tokens, err := auth.NewTokens([]byte(cfg.Session.Secret))
	if err != nil {
		slog.Error("invalid session secret", "error", err)
		return err
	}
	authService := auth.NewService(accountStore, sessionStore, accountStore, tokens, auth.Options{
		SessionTTL:    cfg.Session.TTL,
		RefreshWindow: cfg.Session.RefreshWindow,
	})

	srv := &api.Server{
		Posts:       postStore,
		Units:       unitStore,
		Auth:        authService,
		Audit:       auditStore,
		Cookie:      auth.CookieConfig{Name: cfg.Session.CookieName, Secure: cfg.Session.SecureCookie || cfg.Server.TLSCertFile != ""},
		Metrics:     api.NewMetrics(reg),
		CORSOrigins: cfg.Server.CORSOrigins,
		DBHealth:    postgres.NewHealthChecker(pool),
	}

	// The unit list is a single "all" entry shown on every feed page.
	srv.UnitCache = cache.New[string, []domain.Unit](cache.Options{
		TTL:        30 * time.Second,
		MaxEntries: 10,
	})

	// Image uploads need an object store; image URLs work without one.
	var images posts.ImageStore
	if ep := cfg.Storage.Endpoint; ep != "" {
		store, err := storage.NewImageStore(ctx, storage.S3Config{
			Endpoint:        ep,
			AccessKey:       cfg.Storage.AccessKey,
			SecretKey:       cfg.Storage.SecretKey,
			Bucket:          cfg.Storage.Bucket,
			UseSSL:          cfg.Storage.UseSSL,
			PublicURL:       cfg.Storage.PublicURL,
			MetadataTimeout: cfg.Storage.MetadataTimeout,
			DataTimeout:     cfg.Storage.DataTimeout,
		})
		if err != nil {
			slog.Error("failed to connect to S3", "error", err)
			return err
		}
		images = store
		srv.S3Health = store
		slog.Info("image storage initialized", "endpoint", ep, "bucket", cfg.Storage.Bucket)
	} else {
		slog.Warn("S3_ENDPOINT not set, image uploads disabled")
	}
	srv.Mutations = posts.NewService(postStore, images)

	if cfg.RateLimit.Enabled {
		rl := api.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		srv.RateLimit = &rl
		if cfg.RateLimit.LoginPerMinute > 0 {
			login := api.LoginRateLimitConfig(cfg.RateLimit.LoginPerMinute)
			srv.LoginRateLimit = &login
		}
		slog.Info("rate limiting enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst, "login_per_minute", cfg.RateLimit.LoginPerMinute)
	}

	// Every replica can report on and trigger the reaper; only the leader
	// runs it on schedule.
	reap, err := newReaper(cfg, pool)
	if err != nil {
		slog.Error("invalid reaper configuration", "error", err)
		return err
	}
	var elector *leader.Elector
	if reap != nil {
		srv.Reaper = reap
		elector = leader.New(postgres.NewAdvisoryLock(pool, leader.AdvisoryLockID), leader.RetryInterval,
			func(ctx context.Context) func() {
				reap.Start(ctx)
				slog.Info("reaper started", "schedule", cfg.Reaper.Schedule)
				return func() {
					reap.Stop()
					slog.Info("reaper stopped")
				}
			})
		elector.Start(ctx)
		slog.Info("leader election started (advisory lock)")
	} else {
		slog.Info("reaper disabled")
	}

	var handler http.Handler = api.NewRouter(srv)
	if cfg.Server.H2C && cfg.Server.TLSCertFile == "" {
		handler = h2c.NewHandler(handler, &http2.Server{})
		slog.Info("HTTP/2 cleartext enabled")
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS13,
		},
	}

	errCh := make(chan error, 1)
	if cfg.Server.TLSCertFile != "" {
		go func() {
			errCh <- httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		}()
		slog.Info("starting reportd (HTTPS)", "addr", cfg.Server.ListenAddr, "version", api.Version)
	} else {
		go func() {
			errCh <- httpServer.ListenAndServe()
		}()
		slog.Info("starting reportd", "addr", cfg.Server.ListenAddr, "version", api.Version)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("received signal, shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}

	// Drain HTTP connections, then stop background work.
	drain := cfg.Server.ShutdownTimeout
	if drain <= 0 {
		drain = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drain)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if elector != nil {
		elector.Stop()
		slog.Info("leader elector stopped")
	}
	srv.RateLimiterStop()
	slog.Info("reportd shutdown complete")
	return serveErr
}
