package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	jwttoken "circlesphere/internal/jwt_token"
	paymenthandler "circlesphere/internal/payment/handler"
	"circlesphere/internal/payment/handler/mocks"
	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/provider"
	"circlesphere/internal/payment/provider/fake"
	"circlesphere/internal/payment/service"
	"circlesphere/internal/platform/idempotency"
	"circlesphere/internal/platform/metrics"
	"circlesphere/internal/ratelimit"
)

type routerFixture struct {
	router http.Handler
	svc    *mocks.MockService
	fake   *fake.Provider
	jwt    *jwttoken.JWTService
}

func newFixture(t *testing.T, checks map[string]HealthCheck, dev bool) routerFixture {
	t.Helper()
	return newFixtureWith(t, checks, dev, nil)
}

func newFixtureWith(t *testing.T, checks map[string]HealthCheck, dev bool, limiter *ratelimit.Limiter) routerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	svc := mocks.NewMockService(ctrl)
	prov := fake.New()
	jwtSvc := jwttoken.NewJWTService("test-signing-key", "circlesphere")

	deps := Deps{
		Logger:         logger,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Auth:           jwttoken.NewAdapter(jwtSvc),
		Payments:       paymenthandler.New(svc, prov, logger),
		Idempotency:    idempotency.NewMemoryStore(),
		IdempotencyTTL: time.Hour,
		RequestTimeout: 5 * time.Second,
		HealthChecks:   checks,
		Limiter:        limiter,
	}
	if dev {
		deps.DevPayer = prov
	}
	return routerFixture{router: NewRouter(deps), svc: svc, fake: prov, jwt: jwtSvc}
}

func (f routerFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f routerFixture) bearer(t *testing.T, email string) map[string]string {
	t.Helper()
	token, err := f.jwt.GenerateAccessToken(email, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealth(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		f := newFixture(t, map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
		}, false)
		rec := f.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "ok", body.Checks["store"])
	})

	t.Run("failing dependency degrades", func(t *testing.T) {
		f := newFixture(t, map[string]HealthCheck{
			"store": func(context.Context) error { return nil },
			"redis": func(context.Context) error { return errors.New("connection refused") },
		}, false)
		rec := f.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body healthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "unavailable", body.Checks["redis"])
		assert.Equal(t, "ok", body.Checks["store"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil, false)
	f.do(t, http.MethodGet, "/health", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")
}

func TestPaymentRoutesRequireAuth(t *testing.T) {
	f := newFixture(t, nil, false)

	rec := f.do(t, http.MethodPost, "/payments/verify/cs_123", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/payments/checkout/membership", `{"amount":"25.00","club_name":"Chess","club_id":"c1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutIdempotencyReplay(t *testing.T) {
	f := newFixture(t, nil, false)
	f.svc.EXPECT().CreateCheckout(gomock.Any(), gomock.Any()).
		Return(&service.CheckoutSession{URL: "https://pay.example/cs_1", SessionID: "cs_1"}, nil).
		Times(1)

	headers := f.bearer(t, "ada@example.com")
	headers["Idempotency-Key"] = "checkout-1"
	body := `{"amount":"25.00","club_name":"Chess","club_id":"c1"}`

	first := f.do(t, http.MethodPost, "/payments/checkout/membership", body, headers)
	require.Equal(t, http.StatusOK, first.Code)

	second := f.do(t, http.MethodPost, "/payments/checkout/membership", body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestVerifyRoute(t *testing.T) {
	f := newFixture(t, nil, false)
	f.svc.EXPECT().VerifyAndReconcile(gomock.Any(), "cs_42").Return(&service.Outcome{
		Payment: &models.Payment{PaymentIntentID: "pi_42", Email: "ada@example.com"},
	}, nil)

	rec := f.do(t, http.MethodPost, "/payments/verify/cs_42", "", f.bearer(t, "ada@example.com"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"payment verified"`)
}

func TestWebhookIsPublic(t *testing.T) {
	f := newFixture(t, nil, false)
	f.svc.EXPECT().VerifyAndReconcile(gomock.Any(), "cs_9").Return(&service.Outcome{
		Payment: &models.Payment{PaymentIntentID: "pi_9"},
	}, nil)

	payload := `{"id":"evt_1","type":"` + provider.WebhookEventCheckoutCompleted + `","session_id":"cs_9"}`
	rec := f.do(t, http.MethodPost, "/webhooks/stripe", payload, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDevRoute(t *testing.T) {
	t.Run("absent without fake provider", func(t *testing.T) {
		f := newFixture(t, nil, false)
		rec := f.do(t, http.MethodPost, "/dev/checkout/cs_1/pay", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("marks a fake session paid", func(t *testing.T) {
		f := newFixture(t, nil, true)
		sess, err := f.fake.CreateSession(context.Background(), provider.SessionRequest{
			Amount:        2500,
			Currency:      "usd",
			CustomerEmail: "ada@example.com",
			Metadata:      map[string]string{models.MetadataKind: string(models.KindMembership), models.MetadataClubID: "c1"},
		})
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, "/dev/checkout/"+sess.ID+"/pay", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		state, err := f.fake.RetrieveSession(context.Background(), sess.ID)
		require.NoError(t, err)
		assert.Equal(t, provider.PaymentStatusPaid, state.PaymentStatus)
		assert.Contains(t, rec.Body.String(), state.PaymentIntentID)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t, nil, true)
		rec := f.do(t, http.MethodPost, "/dev/checkout/cs_missing/pay", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPaymentRoutesRateLimited(t *testing.T) {
	limiter := ratelimit.New(nil, 1, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f := newFixtureWith(t, nil, false, limiter)
	f.svc.EXPECT().VerifyAndReconcile(gomock.Any(), "cs_1").Return(&service.Outcome{
		Payment: &models.Payment{PaymentIntentID: "pi_1", Email: "ada@example.com"},
	}, nil).Times(1)

	headers := f.bearer(t, "ada@example.com")
	first := f.do(t, http.MethodPost, "/payments/verify/cs_1", "", headers)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := f.do(t, http.MethodPost, "/payments/verify/cs_1", "", headers)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	t.Run("health is not limited", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil).Code)
	})
}
