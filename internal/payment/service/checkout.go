package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/provider"
	dErrors "circlesphere/pkg/domain-errors"
	"circlesphere/pkg/platform/sentinel"
)

// checkoutSessionPlaceholder is substituted by the provider on redirect.
const checkoutSessionPlaceholder = "{CHECKOUT_SESSION_ID}"

type CheckoutRequest struct {
	Amount         string
	Name           string
	Email          string
	Target         models.Target
	IdempotencyKey string
}

type CheckoutSession struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// CreateCheckout opens a hosted checkout for a single membership or event fee.
// Nothing is persisted locally.
func (s *Service) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.Target == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "payment target is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, nameField(req.Target.Kind())+" is required")
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	amount, err := models.ParseMajor(req.Amount)
	if err != nil {
		return nil, err
	}

	successURL, cancelURL := s.callbackURLs(req.Target.Kind())
	sessReq := provider.SessionRequest{
		Amount:         amount,
		Currency:       s.cfg.Currency,
		ProductName:    name,
		CustomerEmail:  email,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Metadata:       req.Target.Metadata(),
		IdempotencyKey: req.IdempotencyKey,
	}

	start := time.Now()
	sess, err := s.provider.CreateSession(ctx, sessReq)
	s.metrics.ObserveProvider("create_session", start)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create checkout session",
			"error", err,
			"kind", req.Target.Kind(),
			"target_id", req.Target.Ref(),
		)
		return nil, translateProviderErr(err, "failed to create checkout session")
	}
	if sess.URL == "" {
		return nil, dErrors.New(dErrors.CodeProviderUnavailable, "payment provider returned no checkout url")
	}

	s.metrics.IncCheckout(string(req.Target.Kind()))
	s.logger.InfoContext(ctx, "checkout session created",
		"session_id", sess.ID,
		"kind", req.Target.Kind(),
		"target_id", req.Target.Ref(),
		"amount_minor", amount.Minor(),
	)
	return &CheckoutSession{URL: sess.URL, SessionID: sess.ID}, nil
}

func (s *Service) callbackURLs(kind models.Kind) (string, string) {
	base := s.cfg.SiteURL + "/dashboard/"
	prefix := ""
	if kind == models.KindEvent {
		prefix = "event-"
	}
	return base + prefix + "payment-success?session_id=" + checkoutSessionPlaceholder,
		base + prefix + "payment-cancelled"
}

func nameField(kind models.Kind) string {
	if kind == models.KindEvent {
		return "event name"
	}
	return "club name"
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", dErrors.New(dErrors.CodeValidation, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	return email, nil
}

func translateProviderErr(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeProviderUnavailable, msg+": provider timed out")
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeValidation, "checkout session not found")
	}
	if errors.Is(err, sentinel.ErrRejected) {
		return dErrors.Wrap(err, dErrors.CodeValidation, msg+": rejected by payment provider")
	}
	return dErrors.Wrap(err, dErrors.CodeProviderUnavailable, msg)
}
