// Package fake is an in-process checkout provider for local runs and tests.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"circlesphere/internal/payment/provider"
	"circlesphere/pkg/platform/sentinel"
)

const checkoutBaseURL = "https://checkout.fake.local/pay/"

type Provider struct {
	mu       sync.Mutex
	sessions map[string]*provider.SessionState
	requests map[string]provider.SessionRequest
	byKey    map[string]string

	// Err, when set, is returned by every call.
	Err error
}

func New() *Provider {
	return &Provider{
		sessions: make(map[string]*provider.SessionState),
		requests: make(map[string]provider.SessionRequest),
		byKey:    make(map[string]string),
	}
}

func (p *Provider) CreateSession(_ context.Context, req provider.SessionRequest) (*provider.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if id, ok := p.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return &provider.Session{ID: id, URL: checkoutBaseURL + id}, nil
	}

	id := "cs_fake_" + uuid.NewString()
	p.sessions[id] = &provider.SessionState{
		ID:            id,
		PaymentStatus: "unpaid",
		AmountTotal:   req.Amount,
		CustomerEmail: req.CustomerEmail,
		Metadata:      maps.Clone(req.Metadata),
	}
	p.requests[id] = req
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = id
	}
	return &provider.Session{ID: id, URL: checkoutBaseURL + id}, nil
}

func (p *Provider) RetrieveSession(_ context.Context, sessionID string) (*provider.SessionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("checkout session %s: %w", sessionID, sentinel.ErrNotFound)
	}
	cp := *s
	cp.Metadata = maps.Clone(s.Metadata)
	return &cp, nil
}

// MarkPaid settles a session and assigns it a payment intent id.
func (p *Provider) MarkPaid(sessionID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("checkout session %s: %w", sessionID, sentinel.ErrNotFound)
	}
	if s.PaymentIntentID == "" {
		s.PaymentIntentID = "pi_fake_" + uuid.NewString()
	}
	s.PaymentStatus = provider.PaymentStatusPaid
	return s.PaymentIntentID, nil
}

// Put installs an arbitrary session state.
func (p *Provider) Put(state provider.SessionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := state
	p.sessions[state.ID] = &cp
}

// Request returns the request that created a session.
func (p *Provider) Request(sessionID string) (provider.SessionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.requests[sessionID]
	return req, ok
}

type webhookBody struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ParseWebhook accepts an unsigned JSON body {"id","type","session_id"}.
func (p *Provider) ParseWebhook(payload []byte, _ string) (*provider.WebhookEvent, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode fake webhook: %w", err)
	}
	return &provider.WebhookEvent{ID: body.ID, Type: body.Type, SessionID: body.SessionID}, nil
}
