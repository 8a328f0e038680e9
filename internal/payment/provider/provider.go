// Package provider defines the hosted checkout collaborator used by the
// payment service. Adapters translate provider failures into sentinel errors:
// an unknown session is sentinel.ErrNotFound and transport failures wrap
// sentinel.ErrUnavailable.
package provider

import (
	"context"

	"circlesphere/internal/payment/models"
)

// PaymentStatusPaid is the only session payment status that settles a payment.
const PaymentStatusPaid = "paid"

// SessionRequest describes a single-item, one-time hosted checkout.
type SessionRequest struct {
	Amount         models.Money
	Currency       string
	ProductName    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

type Session struct {
	ID  string
	URL string
}

// SessionState is the provider's view of a checkout session.
type SessionState struct {
	ID              string
	PaymentStatus   string
	PaymentIntentID string
	AmountTotal     models.Money
	CustomerEmail   string
	Metadata        map[string]string
}

type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionState, error)
}

// WebhookEventCheckoutCompleted is the event that triggers reconciliation.
const WebhookEventCheckoutCompleted = "checkout.session.completed"

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// WebhookVerifier authenticates a raw webhook payload.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
