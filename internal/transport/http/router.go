package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	paymenthandler "circlesphere/internal/payment/handler"
	"circlesphere/internal/platform/idempotency"
	"circlesphere/internal/platform/metrics"
	"circlesphere/internal/platform/middleware"
	"circlesphere/internal/ratelimit"
	"circlesphere/pkg/platform/httputil"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the router wires together.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Auth           middleware.TokenValidator
	Payments       *paymenthandler.Handler
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	RequestTimeout time.Duration
	// Limiter, when set, bounds authenticated payment requests per member.
	Limiter      *ratelimit.Limiter
	HealthChecks map[string]HealthCheck
	// DevPayer, when set, exposes the fake provider's settle route.
	DevPayer paymenthandler.SessionPayer
}

// NewRouter wires the public endpoints. Handlers stay thin and delegate to
// services so transport concerns remain isolated.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(d.Logger, d.Metrics))
	r.Use(middleware.Logger(d.Logger, d.Metrics))
	r.Use(middleware.Timeout(d.RequestTimeout))

	r.Get("/health", healthHandler(d.HealthChecks))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	d.Payments.RegisterWebhook(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(d.Auth, d.Logger))
		if d.Limiter != nil {
			r.Use(ratelimit.Middleware(d.Limiter, d.Logger))
		}
		var checkoutMW []func(http.Handler) http.Handler
		if d.Idempotency != nil {
			checkoutMW = append(checkoutMW, idempotency.Middleware(d.Idempotency, d.IdempotencyTTL, d.Logger))
		}
		d.Payments.Register(r, checkoutMW...)
	})

	if d.DevPayer != nil {
		d.Payments.RegisterDev(r, d.DevPayer)
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var (
			mu      sync.Mutex
			g       errgroup.Group
			results = make(map[string]string, len(checks))
			healthy = true
		)
		for name, check := range checks {
			g.Go(func() error {
				state := "ok"
				if err := check(ctx); err != nil {
					state = "unavailable"
				}
				mu.Lock()
				defer mu.Unlock()
				results[name] = state
				if state != "ok" {
					healthy = false
				}
				return nil
			})
		}
		_ = g.Wait()

		if !healthy {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Checks: results})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: results})
	}
}
