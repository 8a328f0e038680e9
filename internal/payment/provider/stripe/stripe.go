// Package stripe adapts Stripe Checkout to the provider interfaces.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/provider"
	"circlesphere/pkg/platform/sentinel"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

type Provider struct {
	api           *client.API
	webhookSecret string
}

// New builds a Stripe provider. backends may be nil to use the live API;
// tests pass backends pointed at a local server.
func New(secretKey, webhookSecret string, backends *stripe.Backends) *Provider {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Provider{api: api, webhookSecret: webhookSecret}
}

func (p *Provider) CreateSession(ctx context.Context, req provider.SessionRequest) (*provider.Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(req.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
					UnitAmount: stripe.Int64(req.Amount.Minor()),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:    stripe.String(req.SuccessURL),
		CancelURL:     stripe.String(req.CancelURL),
		CustomerEmail: stripe.String(req.CustomerEmail),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, translate(err)
	}
	return &provider.Session{ID: s.ID, URL: s.URL}, nil
}

func (p *Provider) RetrieveSession(ctx context.Context, sessionID string) (*provider.SessionState, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, translate(err)
	}

	state := &provider.SessionState{
		ID:            s.ID,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   models.Money(s.AmountTotal),
		CustomerEmail: s.CustomerEmail,
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		state.PaymentIntentID = s.PaymentIntent.ID
	}
	if state.CustomerEmail == "" && s.CustomerDetails != nil {
		state.CustomerEmail = s.CustomerDetails.Email
	}
	return state, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the session id
// of checkout events.
func (p *Provider) ParseWebhook(payload []byte, signature string) (*provider.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &provider.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return out, nil
	}
	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	out.SessionID = s.ID
	return out, nil
}

func translate(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return fmt.Errorf("checkout session: %w", sentinel.ErrNotFound)
		}
		if stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("stripe: %w: %s", sentinel.ErrRejected, stripeErr.Msg)
		}
	}
	return fmt.Errorf("stripe: %w: %v", sentinel.ErrUnavailable, err)
}
