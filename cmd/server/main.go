package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	jwttoken "circlesphere/internal/jwt_token"
	paymenthandler "circlesphere/internal/payment/handler"
	paymentmetrics "circlesphere/internal/payment/metrics"
	"circlesphere/internal/payment/service"
	"circlesphere/internal/platform/config"
	"circlesphere/internal/platform/httpserver"
	"circlesphere/internal/platform/logger"
	"circlesphere/internal/platform/metrics"
	"circlesphere/internal/ratelimit"
	httptransport "circlesphere/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := buildInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close(log)

	svc := service.New(deps.provider, deps.store, service.Config{
		SiteURL:        cfg.SiteURL,
		Currency:       cfg.Currency,
		MembershipTerm: cfg.MembershipTerm,
	},
		service.WithLogger(log),
		service.WithMetrics(paymentmetrics.New(reg)),
		service.WithPublisher(deps.publisher),
	)

	checks := map[string]httptransport.HealthCheck{"store": svc.Ready}
	var limitStore ratelimit.Store
	if deps.redis != nil {
		checks["redis"] = deps.redis.Health
		limitStore = ratelimit.NewRedisStore(deps.redis.Client)
	}
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Requests > 0 {
		limiter = ratelimit.New(limitStore, cfg.RateLimit.Requests, cfg.RateLimit.Window, log)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Auth:           jwttoken.NewAdapter(jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer)),
		Payments:       paymenthandler.New(svc, deps.webhooks, log),
		Idempotency:    deps.idempotency,
		IdempotencyTTL: cfg.IdempotencyTTL,
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		HealthChecks:   checks,
		DevPayer:       deps.devPayer,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting circlesphere",
			"addr", cfg.Addr,
			"store", cfg.StoreBackend,
			"provider", cfg.Payments.Provider,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
