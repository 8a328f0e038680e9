package httptransport

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "circlesphere/internal/jwt_token"
	paymenthandler "circlesphere/internal/payment/handler"
	"circlesphere/internal/payment/provider/fake"
	"circlesphere/internal/payment/service"
	"circlesphere/internal/payment/store/memory"
	"circlesphere/internal/platform/idempotency"
	"circlesphere/pkg/testutil"
)

type flowVerifyResponse struct {
	Message string `json:"message"`
	Payment struct {
		ID     string          `json:"id"`
		Amount json.RawMessage `json:"amount"`
	} `json:"payment"`
	Membership *struct {
		ID     string `json:"id"`
		ClubID string `json:"club_id"`
	} `json:"membership"`
}

// TestCheckoutToMembershipFlow runs the full stack in process: router, auth,
// service, memory store and the fake provider.
func TestCheckoutToMembershipFlow(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prov := fake.New()
	st := memory.New()
	svc := service.New(prov, st, service.Config{SiteURL: "https://app.example.com", Currency: "usd"},
		service.WithLogger(logger),
	)
	jwtSvc := jwttoken.NewJWTService("flow-key", "")
	router := NewRouter(Deps{
		Logger:         logger,
		Auth:           jwttoken.NewAdapter(jwtSvc),
		Payments:       paymenthandler.New(svc, prov, logger),
		Idempotency:    idempotency.NewMemoryStore(),
		IdempotencyTTL: time.Hour,
		HealthChecks:   map[string]HealthCheck{"store": svc.Ready},
		DevPayer:       prov,
	})

	token, err := jwtSvc.GenerateAccessToken("ada@example.com", time.Hour)
	require.NoError(t, err)
	authed := func(method, path string, body any) *http.Request {
		req := testutil.NewJSONRequest(t, method, path, body)
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	testutil.Given(t, "a member starting a club checkout", func(t *testing.T) {
		rr := testutil.DoRequest(router, authed(http.MethodPost, "/payments/checkout/membership", map[string]any{
			"amount":    "25.00",
			"club_name": "Chess Club",
			"club_id":   "club-chess",
		}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		sess := testutil.UnmarshalResponse[service.CheckoutSession](t, rr)
		require.NotEmpty(t, sess.SessionID)

		testutil.When(t, "verifying before payment", func(t *testing.T) {
			rr := testutil.DoRequest(router, authed(http.MethodPost, "/payments/verify/"+sess.SessionID, nil))

			testutil.Then(t, "the payment is rejected as incomplete", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "payment_not_completed")
			})
		})

		rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/dev/checkout/"+sess.SessionID+"/pay", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var first *flowVerifyResponse
		testutil.When(t, "verifying the paid session", func(t *testing.T) {
			rr := testutil.DoRequest(router, authed(http.MethodPost, "/payments/verify/"+sess.SessionID, nil))
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			first = testutil.UnmarshalResponse[flowVerifyResponse](t, rr)

			testutil.Then(t, "the payment and membership are recorded", func(t *testing.T) {
				assert.Equal(t, "payment verified", first.Message)
				assert.JSONEq(t, "25.00", string(first.Payment.Amount))
				require.NotNil(t, first.Membership)
				assert.Equal(t, "club-chess", first.Membership.ClubID)
			})
		})

		testutil.When(t, "verifying again", func(t *testing.T) {
			require.NotNil(t, first)
			rr := testutil.DoRequest(router, authed(http.MethodPost, "/payments/verify/"+sess.SessionID, nil))
			require.Equal(t, http.StatusOK, rr.Code)
			again := testutil.UnmarshalResponse[flowVerifyResponse](t, rr)

			testutil.Then(t, "the recorded payment is returned unchanged", func(t *testing.T) {
				assert.Equal(t, "payment already verified", again.Message)
				assert.Equal(t, first.Payment.ID, again.Payment.ID)
				require.NotNil(t, again.Membership)
				assert.Equal(t, first.Membership.ID, again.Membership.ID)
			})
		})
	})

	testutil.Given(t, "the health endpoint", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/health", nil))

		testutil.Then(t, "the memory store reports ok", func(t *testing.T) {
			assert.Equal(t, http.StatusOK, rr.Code)
		})
	})
}
