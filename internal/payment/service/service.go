package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"circlesphere/internal/payment/events"
	"circlesphere/internal/payment/metrics"
	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/provider"
	"circlesphere/internal/payment/store"
	"circlesphere/pkg/requestcontext"
)

const tracerName = "circlesphere/payment"

// Publisher emits domain events after a reconciliation commits.
type Publisher interface {
	Publish(ctx context.Context, evs ...events.Event) error
}

// Config holds the settings that shape checkout sessions and memberships.
type Config struct {
	SiteURL        string
	Currency       string
	MembershipTerm time.Duration
}

// Service creates checkout sessions and turns verified provider payments into
// recorded payments with their membership or event registration.
type Service struct {
	provider  provider.Provider
	store     store.TxStore
	cfg       Config
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(p provider.Provider, st store.TxStore, cfg Config, opts ...Option) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	s := &Service{
		provider:  p,
		store:     st,
		cfg:       cfg,
		publisher: events.NopPublisher{},
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is the result of reconciling one verified payment.
type Outcome struct {
	AlreadyRecorded bool
	Payment         *models.Payment
	Membership      *models.Membership
	Registration    *models.EventRegistration
}

// VerifyAndReconcile confirms the session is paid and records it exactly once
// per payment intent. Repeated calls return the recorded outcome.
func (s *Service) VerifyAndReconcile(ctx context.Context, sessionID string) (*Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "payment.VerifyAndReconcile",
		trace.WithAttributes(attribute.String("payment.session_id", sessionID)))
	defer span.End()

	verified, err := s.Verify(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify failed")
		return nil, err
	}

	outcome, err := s.Reconcile(ctx, verified)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("payment.intent_id", verified.PaymentIntentID),
		attribute.Bool("payment.already_recorded", outcome.AlreadyRecorded),
	)
	return outcome, nil
}

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}
