package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/opscenter/internal/adapter/driven/cipher"
	"github.com/ericfisherdev/opscenter/internal/adapter/driven/probe"
	"github.com/ericfisherdev/opscenter/internal/adapter/driven/ratelimit"
	sqliteadapter "github.com/ericfisherdev/opscenter/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/opscenter/internal/adapter/driving/http"
	"github.com/ericfisherdev/opscenter/internal/application"
	"github.com/ericfisherdev/opscenter/internal/config"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on a missing or malformed master key).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"rate_limit_backend", cfg.RateLimitBackend,
		"probe_timeout", cfg.ProbeTimeout,
	)

	// 2. Build the cipher before touching any storage.
	keyCipher, err := cipher.New(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}

	// 3. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 5. Run migrations on writer connection.
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		return err
	}
	slog.Info("migrations complete", "version", version)

	// 6. Wire adapters.
	credentialStore := sqliteadapter.NewCredentialRepo(db)
	auditStore := sqliteadapter.NewAuditRepo(db)

	limiter, closeLimiter, err := newRateLimiter(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeLimiter()

	probes, err := probe.Defaults(probe.NewHTTPClient(), probe.DefaultEndpoints())
	if err != nil {
		return err
	}

	// 7. Application services.
	logger := slog.Default()
	auditLog := application.NewAuditLog(auditStore, keyCipher.AuditKey(), logger)
	credentialSvc := application.NewCredentialService(
		application.DefaultRegistry(),
		credentialStore,
		keyCipher,
		limiter,
		auditLog,
		probes,
		application.Options{
			TestLimit:    cfg.TestLimit,
			TestPeriod:   cfg.TestPeriod,
			ResetLimit:   cfg.ResetLimit,
			ResetPeriod:  cfg.ResetPeriod,
			ProbeTimeout: cfg.ProbeTimeout,
		},
		logger,
	)
	healthSvc := application.NewHealthService(db, auditLog, logger)
	sweeper := application.NewRateLimitSweeper(limiter, cfg.SweepInterval, logger)

	// 8. HTTP server.
	apiHandler := httphandler.NewHandler(credentialSvc, auditLog, healthSvc, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	// 9. Graceful shutdown with 10s timeout once a signal arrives or a worker fails.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	slog.Info("opscenter started",
		"listen_addr", cfg.ListenAddr,
		"services", len(credentialSvc.Registry().Services()),
	)

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}

// newRateLimiter builds the configured limiter backend and its cleanup func.
func newRateLimiter(ctx context.Context, cfg *config.Config, db *sqliteadapter.DB) (driven.RateLimiter, func(), error) {
	switch cfg.RateLimitBackend {
	case config.BackendMemory:
		slog.Warn("in-memory rate limiting is per-process; use sqlite or redis for multiple instances")
		return ratelimit.NewMemory(nil), func() {}, nil
	case config.BackendRedis:
		r, err := ratelimit.NewRedisFromURL(ctx, cfg.RedisURL, "opscenter:ratelimit")
		if err != nil {
			return nil, nil, err
		}
		return r, func() {
			if err := r.Close(); err != nil {
				slog.Error("error closing redis client", "error", err)
			}
		}, nil
	default:
		return sqliteadapter.NewRateLimitRepo(db), func() {}, nil
	}
}
