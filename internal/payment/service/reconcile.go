package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"circlesphere/internal/payment/events"
	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/store"
	dErrors "circlesphere/pkg/domain-errors"
	"circlesphere/pkg/platform/sentinel"
)

// A transaction that loses the race for the active membership slot is retried
// so the next attempt reads the winner.
const maxReconcileAttempts = 3

var (
	errIntentRecorded = errors.New("payment intent already recorded")
	errMembershipRace = errors.New("active membership created concurrently")
)

// Reconcile records a verified payment and its derived effect atomically.
//
// The payment intent id is the only de-duplication key. Memberships are
// reused when the payer already holds an active one for the club; event
// registrations are always created.
func (s *Service) Reconcile(ctx context.Context, v *VerifiedPayment) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Reconcile")
	defer span.End()

	if v == nil || v.Target == nil || v.PaymentIntentID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "verified payment is incomplete")
	}
	span.SetAttributes(
		attribute.String("payment.intent_id", v.PaymentIntentID),
		attribute.String("payment.kind", string(v.Target.Kind())),
	)
	start := time.Now()
	defer s.metrics.ObserveReconcile(start)

	// One intent always belongs to one payer, so keying by email also orders
	// the lookup after any in-flight transaction for the same intent.
	ctx = store.WithTxKey(ctx, v.Email)
	existing, err := s.store.FindPaymentByIntentID(ctx, v.PaymentIntentID)
	switch {
	case err == nil:
		return s.recordedOutcome(ctx, existing), nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, translateStoreErr(err, "failed to look up payment")
	}

	for attempt := 1; ; attempt++ {
		outcome, err := s.record(ctx, v)
		switch {
		case err == nil:
			s.afterCommit(ctx, outcome)
			return outcome, nil
		case errors.Is(err, errIntentRecorded):
			winner, ferr := s.store.FindPaymentByIntentID(ctx, v.PaymentIntentID)
			if ferr != nil {
				return nil, translateStoreErr(ferr, "failed to load recorded payment")
			}
			return s.recordedOutcome(ctx, winner), nil
		case errors.Is(err, errMembershipRace) && attempt < maxReconcileAttempts:
			s.logger.InfoContext(ctx, "retrying reconcile after membership conflict",
				"payment_intent_id", v.PaymentIntentID,
				"attempt", attempt,
			)
			continue
		default:
			s.logger.ErrorContext(ctx, "failed to reconcile payment",
				"payment_intent_id", v.PaymentIntentID,
				"error", err,
			)
			return nil, translateStoreErr(err, "failed to record payment")
		}
	}
}

func (s *Service) record(ctx context.Context, v *VerifiedPayment) (*Outcome, error) {
	now := s.now(ctx)
	payment := &models.Payment{
		ID:              uuid.New(),
		Email:           v.Email,
		Amount:          v.Amount,
		Kind:            v.Target.Kind(),
		TargetID:        v.Target.Ref(),
		PaymentIntentID: v.PaymentIntentID,
		SessionID:       v.SessionID,
		Status:          models.PaymentStatusCompleted,
		CreatedAt:       now,
	}
	out := &Outcome{Payment: payment}

	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.InsertPayment(ctx, payment); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return errIntentRecorded
			}
			return err
		}

		switch t := v.Target.(type) {
		case models.ClubTarget:
			m, err := s.ensureMembership(ctx, tx, payment, t, now)
			if err != nil {
				return err
			}
			out.Membership = m
		case models.EventTarget:
			r := &models.EventRegistration{
				ID:           uuid.New(),
				Email:        payment.Email,
				EventID:      t.EventID,
				PaymentID:    payment.ID,
				RegisteredAt: now,
			}
			if err := tx.InsertRegistration(ctx, r); err != nil {
				return err
			}
			out.Registration = r
		default:
			return dErrors.New(dErrors.CodeValidation, "unsupported payment target")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ensureMembership returns the payer's current membership for the club or
// creates one. A lapsed membership is expired first to free the active slot.
func (s *Service) ensureMembership(ctx context.Context, tx store.Store, p *models.Payment, t models.ClubTarget, now time.Time) (*models.Membership, error) {
	current, err := tx.FindActiveMembership(ctx, p.Email, t.ClubID)
	switch {
	case err == nil && current.IsCurrent(now):
		return current, nil
	case err == nil:
		if err := tx.ExpireMembership(ctx, current.ID); err != nil {
			return nil, err
		}
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, err
	}

	m := &models.Membership{
		ID:        uuid.New(),
		Email:     p.Email,
		ClubID:    t.ClubID,
		Status:    models.MembershipActive,
		PaymentID: p.ID,
		JoinedAt:  now,
	}
	if s.cfg.MembershipTerm > 0 {
		expires := now.Add(s.cfg.MembershipTerm)
		m.ExpiresAt = &expires
	}
	if err := tx.InsertMembership(ctx, m); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, errMembershipRace
		}
		return nil, err
	}
	return m, nil
}

// recordedOutcome loads the effect of an already-recorded payment. The
// payment itself is the answer; a failed effect lookup is only logged.
func (s *Service) recordedOutcome(ctx context.Context, p *models.Payment) *Outcome {
	out := &Outcome{AlreadyRecorded: true, Payment: p}
	s.metrics.IncReconciled(string(p.Kind), true)

	var err error
	switch t := p.Target().(type) {
	case models.ClubTarget:
		out.Membership, err = s.store.FindActiveMembership(ctx, p.Email, t.ClubID)
	case models.EventTarget:
		out.Registration, err = s.store.FindRegistrationByPaymentID(ctx, p.ID)
	}
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to load effect of recorded payment",
			"payment_intent_id", p.PaymentIntentID,
			"error", err,
		)
	}
	return out
}

func (s *Service) afterCommit(ctx context.Context, out *Outcome) {
	s.metrics.IncReconciled(string(out.Payment.Kind), false)
	s.logger.InfoContext(ctx, "payment recorded",
		"payment_id", out.Payment.ID,
		"payment_intent_id", out.Payment.PaymentIntentID,
		"kind", out.Payment.Kind,
		"target_id", out.Payment.TargetID,
		"amount_minor", out.Payment.Amount.Minor(),
	)

	evs, err := events.ForOutcome(out.Payment, out.Membership, out.Registration)
	if err == nil {
		err = s.publisher.Publish(ctx, evs...)
	}
	if err != nil {
		s.metrics.IncPublishFailed()
		s.logger.WarnContext(ctx, "failed to publish payment events",
			"payment_intent_id", out.Payment.PaymentIntentID,
			"error", err,
		)
	}
}

func translateStoreErr(err error, msg string) error {
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, msg+": store timed out")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeInternal, msg+": store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
