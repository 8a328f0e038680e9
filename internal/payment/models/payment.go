package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const PaymentStatusCompleted PaymentStatus = "completed"

// Payment is the durable record of a verified provider payment. It is
// written once and never updated.
type Payment struct {
	ID              uuid.UUID     `json:"id"`
	Email           string        `json:"email"`
	Amount          Money         `json:"amount"`
	Kind            Kind          `json:"kind"`
	TargetID        string        `json:"target_id"`
	PaymentIntentID string        `json:"payment_intent_id"`
	SessionID       string        `json:"session_id"`
	Status          PaymentStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Target rebuilds the typed target of the payment.
func (p *Payment) Target() Target {
	if p.Kind == KindEvent {
		return EventTarget{EventID: p.TargetID}
	}
	return ClubTarget{ClubID: p.TargetID}
}

type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipExpired   MembershipStatus = "expired"
	MembershipCancelled MembershipStatus = "cancelled"
)

type Membership struct {
	ID        uuid.UUID        `json:"id"`
	Email     string           `json:"email"`
	ClubID    string           `json:"club_id"`
	Status    MembershipStatus `json:"status"`
	PaymentID uuid.UUID        `json:"payment_id"`
	JoinedAt  time.Time        `json:"joined_at"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

// IsCurrent reports whether the membership is active and unexpired at now.
func (m *Membership) IsCurrent(now time.Time) bool {
	if m.Status != MembershipActive {
		return false
	}
	return m.ExpiresAt == nil || now.Before(*m.ExpiresAt)
}

type EventRegistration struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	EventID      string    `json:"event_id"`
	PaymentID    uuid.UUID `json:"payment_id"`
	RegisteredAt time.Time `json:"registered_at"`
}
