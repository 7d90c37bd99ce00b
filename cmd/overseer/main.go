package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	ovhttp "github.com/afcen/overseer/internal/adapter/http"
	ovnats "github.com/afcen/overseer/internal/adapter/nats"
	"github.com/afcen/overseer/internal/adapter/natskv"
	"github.com/afcen/overseer/internal/adapter/otel"
	"github.com/afcen/overseer/internal/adapter/postgres"
	"github.com/afcen/overseer/internal/adapter/ristretto"
	"github.com/afcen/overseer/internal/adapter/workers"
	"github.com/afcen/overseer/internal/adapter/ws"
	"github.com/afcen/overseer/internal/config"
	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/logger"
	"github.com/afcen/overseer/internal/middleware"
	"github.com/afcen/overseer/internal/port/notifier"
	"github.com/afcen/overseer/internal/resilience"
	"github.com/afcen/overseer/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer func() { logCloser.Close() }()

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"stream", cfg.Bus.Stream,
		"ledger_ttl", cfg.Ledger.TTL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	bus, err := ovnats.Connect(ctx, cfg.NATS.URL, cfg.Bus.Stream, cfg.Bus.Retention)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = bus.Drain() }()

	l1, err := ristretto.New(cfg.Ledger.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ledger cache: %w", err)
	}
	defer l1.Close()

	led, err := natskv.New(ctx, bus.JetStream(), cfg.Ledger.Bucket, cfg.Ledger.TTL, l1)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)
	sink := postgres.NewAuditSink(pool)
	notifiers := buildNotifiers(cfg.Notify)

	auditor := service.NewAuditService(sink,
		resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout), hub, notifiers)

	registry, err := capability.NewRegistry(workers.All()...)
	if err != nil {
		return fmt.Errorf("worker registry: %w", err)
	}

	router := service.NewRouterService(registry, store, auditor, hub, metrics)
	pipeline := service.NewPipelineService(
		postgres.NewContextSource(pool, 5),
		resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout),
		led, store, router, auditor, hub, metrics, cfg.Pipeline)
	approvals := service.NewApprovalService(store, router, auditor, hub, metrics, notifiers, cfg.Approval)
	conflicts := service.NewConflictService(store, router, approvals, auditor, hub, cfg.Conflict)

	router.SetPipeline(pipeline)
	router.SetApprovals(approvals)
	router.SetConflicts(conflicts)

	signingKey, err := hex.DecodeString(cfg.Bus.SigningKeyHex)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	peer := service.NewPeerService(bus, led, store, router, conflicts, auditor, hub, metrics,
		signingKey, cfg.Bus.Retention)
	pipeline.SetResponder(peer)
	approvals.SetPublisher(peer)

	if err := peer.Start(ctx); err != nil {
		return fmt.Errorf("peer channel: %w", err)
	}
	defer peer.Stop()

	go approvals.StartSweep(ctx)
	go peer.StartResponseSweep(ctx, time.Minute)

	// --- HTTP ---

	handlers := &ovhttp.Handlers{
		Router:    router,
		Approvals: approvals,
		Conflicts: conflicts,
		Auditor:   auditor,
		Peer:      peer,
		Registry:  registry,
		Store:     store,
	}

	limiter := middleware.NewRateLimiter(20, 40)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune(10 * time.Minute)
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(ovhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(ovhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(limiter.Handler)

	ovhttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildNotifiers resolves the configured escalation channels from the
// notifier registry.
func buildNotifiers(cfg config.Notify) []notifier.Notifier {
	var out []notifier.Notifier
	if cfg.SlackWebhookURL != "" {
		n, err := notifier.New("slack", map[string]string{"webhook_url": cfg.SlackWebhookURL})
		if err != nil {
			slog.Warn("slack notifier unavailable", "error", err)
		} else {
			out = append(out, n)
		}
	}
	return out
}
