package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/provider"
	"circlesphere/internal/payment/service"
	"circlesphere/internal/platform/idempotency"
	"circlesphere/internal/platform/middleware"
	dErrors "circlesphere/pkg/domain-errors"
	"circlesphere/pkg/platform/httputil"
)

const (
	messageAlreadyVerified = "payment already verified"
	messageVerified        = "payment verified"

	maxWebhookBytes = 64 << 10
)

// Service is the payment use-case surface the handlers depend on.
type Service interface {
	CreateCheckout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutSession, error)
	VerifyAndReconcile(ctx context.Context, sessionID string) (*service.Outcome, error)
}

type Handler struct {
	service  Service
	webhooks provider.WebhookVerifier
	logger   *slog.Logger
}

func New(svc Service, webhooks provider.WebhookVerifier, logger *slog.Logger) *Handler {
	return &Handler{service: svc, webhooks: webhooks, logger: logger}
}

// Register mounts the authenticated payment routes. checkoutMW wraps only the
// checkout routes (idempotency).
func (h *Handler) Register(r chi.Router, checkoutMW ...func(http.Handler) http.Handler) {
	r.Route("/payments", func(r chi.Router) {
		r.With(checkoutMW...).Post("/checkout/membership", h.HandleMembershipCheckout)
		r.With(checkoutMW...).Post("/checkout/event", h.HandleEventCheckout)
		r.Post("/verify/{sessionID}", h.HandleVerify)
	})
}

// RegisterWebhook mounts the provider webhook. It is authenticated by
// signature, not bearer token.
func (h *Handler) RegisterWebhook(r chi.Router) {
	r.Post("/webhooks/stripe", h.HandleWebhook)
}

type membershipCheckoutRequest struct {
	Amount   models.AmountInput `json:"amount"`
	ClubName string             `json:"club_name"`
	Email    string             `json:"email"`
	ClubID   string             `json:"club_id"`
}

type eventCheckoutRequest struct {
	Amount    models.AmountInput `json:"amount"`
	EventName string             `json:"event_name"`
	Email     string             `json:"email"`
	EventID   string             `json:"event_id"`
}

type verifyResponse struct {
	Message      string                    `json:"message"`
	Payment      *models.Payment           `json:"payment"`
	Membership   *models.Membership        `json:"membership,omitempty"`
	Registration *models.EventRegistration `json:"registration,omitempty"`
}

func (h *Handler) HandleMembershipCheckout(w http.ResponseWriter, r *http.Request) {
	var req membershipCheckoutRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ClubID) == "" {
		h.writeError(w, r, dErrors.New(dErrors.CodeValidation, "club_id is required"))
		return
	}
	h.checkout(w, r, string(req.Amount), req.ClubName, req.Email, models.ClubTarget{ClubID: strings.TrimSpace(req.ClubID)})
}

func (h *Handler) HandleEventCheckout(w http.ResponseWriter, r *http.Request) {
	var req eventCheckoutRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.EventID) == "" {
		h.writeError(w, r, dErrors.New(dErrors.CodeValidation, "event_id is required"))
		return
	}
	h.checkout(w, r, string(req.Amount), req.EventName, req.Email, models.EventTarget{EventID: strings.TrimSpace(req.EventID)})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, amount, name, email string, target models.Target) {
	ctx := r.Context()
	email, err := payerEmail(middleware.GetSubject(r), email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sess, err := h.service.CreateCheckout(ctx, service.CheckoutRequest{
		Amount:         amount,
		Name:           name,
		Email:          email,
		Target:         target,
		IdempotencyKey: idempotency.KeyFromContext(ctx),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	out, err := h.service.VerifyAndReconcile(ctx, sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	subject := middleware.GetSubject(r)
	if subject != "" && !strings.EqualFold(subject, out.Payment.Email) {
		h.logger.WarnContext(ctx, "verified payment belongs to another payer",
			"request_id", middleware.GetRequestID(ctx),
			"payment_intent_id", out.Payment.PaymentIntentID,
		)
	}

	resp := verifyResponse{
		Message:      messageVerified,
		Payment:      out.Payment,
		Membership:   out.Membership,
		Registration: out.Registration,
	}
	if out.AlreadyRecorded {
		resp.Message = messageAlreadyVerified
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read webhook body"))
		return
	}

	event, err := h.webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.WarnContext(ctx, "rejected webhook",
			"request_id", requestID,
			"error", err,
		)
		h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid webhook"))
		return
	}
	if event.Type != provider.WebhookEventCheckoutCompleted {
		h.logger.DebugContext(ctx, "ignoring webhook event",
			"request_id", requestID,
			"event_type", event.Type,
		)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	out, err := h.service.VerifyAndReconcile(ctx, event.SessionID)
	if err != nil {
		// Unpaid async payments settle later; the provider will send another event.
		if dErrors.HasCode(err, dErrors.CodePaymentNotCompleted) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.logger.InfoContext(ctx, "webhook reconciled payment",
		"request_id", requestID,
		"event_id", event.ID,
		"payment_intent_id", out.Payment.PaymentIntentID,
		"already_recorded", out.AlreadyRecorded,
	)
	w.WriteHeader(http.StatusNoContent)
}

// payerEmail defaults the payer to the authenticated subject and refuses
// checkouts on behalf of someone else.
func payerEmail(subject, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		if subject == "" {
			return "", dErrors.New(dErrors.CodeValidation, "email is required")
		}
		return subject, nil
	}
	if subject != "" && !strings.EqualFold(subject, requested) {
		return "", dErrors.New(dErrors.CodeForbidden, "email does not match the authenticated user")
	}
	return requested, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"path", r.URL.Path,
		"error", err,
	}
	status := http.StatusInternalServerError
	var de *dErrors.Error
	if errors.As(err, &de) {
		status = dErrors.ToHTTPStatus(de.Code)
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "payment request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "payment request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}

// SessionPayer settles checkout sessions without a real provider.
type SessionPayer interface {
	MarkPaid(sessionID string) (string, error)
}

// RegisterDev mounts a route that marks a fake checkout session as paid.
// Only wired when the fake provider is configured.
func (h *Handler) RegisterDev(r chi.Router, payer SessionPayer) {
	r.Post("/dev/checkout/{sessionID}/pay", func(w http.ResponseWriter, r *http.Request) {
		intentID, err := payer.MarkPaid(chi.URLParam(r, "sessionID"))
		if err != nil {
			h.writeError(w, r, dErrors.Wrap(err, dErrors.CodeNotFound, "checkout session not found"))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"payment_intent_id": intentID})
	})
}
