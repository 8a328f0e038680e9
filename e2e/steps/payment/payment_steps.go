package payment

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	Do(method, path string, body interface{}, headers map[string]string) error
	LastStatus() int
	GetResponseField(field string) (interface{}, error)
	Save(name, value string)
	Saved(name string) string
}

const (
	savedSession    = "session_id"
	savedMembership = "membership_id"
	savedPayment    = "payment_id"
)

// RegisterSteps registers checkout, settlement and verification steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &paymentSteps{tc: tc}

	// Checkout steps
	ctx.Step(`^I start a membership checkout for club "([^"]*)" named "([^"]*)" costing "([^"]*)"$`, steps.startMembershipCheckout)
	ctx.Step(`^I start a membership checkout for club "([^"]*)" named "([^"]*)" costing "([^"]*)" with idempotency key "([^"]*)"$`, steps.startMembershipCheckoutWithKey)
	ctx.Step(`^I start an event checkout for event "([^"]*)" named "([^"]*)" costing "([^"]*)"$`, steps.startEventCheckout)

	// Settlement and verification steps
	ctx.Step(`^the checkout session is paid$`, steps.payCheckoutSession)
	ctx.Step(`^I verify the checkout session$`, steps.verifyCheckoutSession)
	ctx.Step(`^I verify checkout session "([^"]*)"$`, steps.verifySession)
	ctx.Step(`^the provider reports the checkout session completed$`, steps.sendCompletedWebhook)

	// Memory between requests
	ctx.Step(`^I remember the membership$`, steps.rememberMembership)
	ctx.Step(`^the membership should be the remembered one$`, steps.membershipShouldBeRemembered)
	ctx.Step(`^I remember the payment$`, steps.rememberPayment)
	ctx.Step(`^the payment should be the remembered one$`, steps.paymentShouldBeRemembered)
}

type paymentSteps struct {
	tc TestContext
}

func (s *paymentSteps) startMembershipCheckout(ctx context.Context, clubID, name, amount string) error {
	return s.startMembershipCheckoutWithKey(ctx, clubID, name, amount, "")
}

func (s *paymentSteps) startMembershipCheckoutWithKey(ctx context.Context, clubID, name, amount, key string) error {
	body := map[string]interface{}{
		"amount":    amount,
		"club_name": name,
		"club_id":   clubID,
	}
	var headers map[string]string
	if key != "" {
		headers = map[string]string{"Idempotency-Key": key}
	}
	if err := s.tc.Do(http.MethodPost, "/payments/checkout/membership", body, headers); err != nil {
		return err
	}
	return s.saveSession()
}

func (s *paymentSteps) startEventCheckout(ctx context.Context, eventID, name, amount string) error {
	body := map[string]interface{}{
		"amount":     amount,
		"event_name": name,
		"event_id":   eventID,
	}
	if err := s.tc.POST("/payments/checkout/event", body); err != nil {
		return err
	}
	return s.saveSession()
}

// saveSession keeps the session id of a successful checkout.
func (s *paymentSteps) saveSession() error {
	if s.tc.LastStatus() != http.StatusOK {
		return nil
	}
	id, err := s.tc.GetResponseField("session_id")
	if err != nil {
		return err
	}
	s.tc.Save(savedSession, fmt.Sprint(id))
	return nil
}

func (s *paymentSteps) payCheckoutSession(ctx context.Context) error {
	session := s.tc.Saved(savedSession)
	if session == "" {
		return fmt.Errorf("no checkout session has been started")
	}
	if err := s.tc.POST("/dev/checkout/"+session+"/pay", nil); err != nil {
		return err
	}
	if s.tc.LastStatus() != http.StatusOK {
		return fmt.Errorf("settling session %s returned %d", session, s.tc.LastStatus())
	}
	return nil
}

func (s *paymentSteps) verifyCheckoutSession(ctx context.Context) error {
	return s.verifySession(ctx, s.tc.Saved(savedSession))
}

func (s *paymentSteps) verifySession(ctx context.Context, session string) error {
	return s.tc.POST("/payments/verify/"+session, nil)
}

func (s *paymentSteps) sendCompletedWebhook(ctx context.Context) error {
	body := map[string]interface{}{
		"id":         "evt_e2e_" + s.tc.Saved(savedSession),
		"type":       "checkout.session.completed",
		"session_id": s.tc.Saved(savedSession),
	}
	return s.tc.POST("/webhooks/stripe", body)
}

func (s *paymentSteps) rememberMembership(ctx context.Context) error {
	return s.remember("membership.id", savedMembership)
}

func (s *paymentSteps) membershipShouldBeRemembered(ctx context.Context) error {
	return s.shouldMatch("membership.id", savedMembership)
}

func (s *paymentSteps) rememberPayment(ctx context.Context) error {
	return s.remember("payment.id", savedPayment)
}

func (s *paymentSteps) paymentShouldBeRemembered(ctx context.Context) error {
	return s.shouldMatch("payment.id", savedPayment)
}

func (s *paymentSteps) remember(field, name string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.Save(name, fmt.Sprint(v))
	return nil
}

func (s *paymentSteps) shouldMatch(field, name string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got, want := fmt.Sprint(v), s.tc.Saved(name); got != want {
		return fmt.Errorf("expected %s to be %s, got %s", field, want, got)
	}
	return nil
}
