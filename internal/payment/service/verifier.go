package service

import (
	"context"
	"strings"
	"time"

	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/provider"
	dErrors "circlesphere/pkg/domain-errors"
)

// VerifiedPayment is a provider session confirmed as paid.
type VerifiedPayment struct {
	SessionID       string
	PaymentIntentID string
	Email           string
	Amount          models.Money
	Target          models.Target
}

// Verify reads the session from the provider and confirms it is paid. It
// never touches local state.
func (s *Service) Verify(ctx context.Context, sessionID string) (*VerifiedPayment, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Verify")
	defer span.End()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		s.metrics.IncVerification("invalid")
		return nil, dErrors.New(dErrors.CodeValidation, "session id is required")
	}

	start := time.Now()
	state, err := s.provider.RetrieveSession(ctx, sessionID)
	s.metrics.ObserveProvider("retrieve_session", start)
	if err != nil {
		s.metrics.IncVerification("provider_error")
		s.logger.WarnContext(ctx, "failed to retrieve checkout session",
			"session_id", sessionID,
			"error", err,
		)
		return nil, translateProviderErr(err, "failed to retrieve checkout session")
	}

	if state.PaymentStatus != provider.PaymentStatusPaid {
		s.metrics.IncVerification("not_paid")
		return nil, dErrors.New(dErrors.CodePaymentNotCompleted, "payment not completed")
	}
	if state.PaymentIntentID == "" {
		s.metrics.IncVerification("malformed")
		return nil, dErrors.New(dErrors.CodeProviderUnavailable, "paid session has no payment intent")
	}
	email := strings.ToLower(strings.TrimSpace(state.CustomerEmail))
	if email == "" {
		s.metrics.IncVerification("malformed")
		return nil, dErrors.New(dErrors.CodeProviderUnavailable, "paid session has no customer email")
	}
	if state.AmountTotal < 0 {
		s.metrics.IncVerification("malformed")
		return nil, dErrors.New(dErrors.CodeProviderUnavailable, "paid session has a negative total")
	}

	target, err := models.TargetFromMetadata(state.Metadata)
	if err != nil {
		s.metrics.IncVerification("invalid")
		s.logger.WarnContext(ctx, "paid session has unusable metadata",
			"session_id", sessionID,
			"payment_intent_id", state.PaymentIntentID,
			"error", err,
		)
		return nil, err
	}

	s.metrics.IncVerification("paid")
	return &VerifiedPayment{
		SessionID:       sessionID,
		PaymentIntentID: state.PaymentIntentID,
		Email:           email,
		Amount:          state.AmountTotal,
		Target:          target,
	}, nil
}
