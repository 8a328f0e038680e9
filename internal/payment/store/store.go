// Package store defines persistence for payments and their derived effects.
//
// Backends enforce two uniqueness rules at the storage layer:
//   - payment intent id is unique across all payments;
//   - at most one active membership exists per (email, club).
//
// A violated rule surfaces as sentinel.ErrAlreadyUsed; a missing row as
// sentinel.ErrNotFound.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"circlesphere/internal/payment/models"
)

// DefaultTxTimeout bounds a transaction when the caller context has no deadline.
const DefaultTxTimeout = 5 * time.Second

type Store interface {
	FindPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	FindActiveMembership(ctx context.Context, email, clubID string) (*models.Membership, error)
	FindRegistrationByPaymentID(ctx context.Context, paymentID uuid.UUID) (*models.EventRegistration, error)
	InsertPayment(ctx context.Context, p *models.Payment) error
	InsertMembership(ctx context.Context, m *models.Membership) error
	ExpireMembership(ctx context.Context, id uuid.UUID) error
	InsertRegistration(ctx context.Context, r *models.EventRegistration) error
}

// TxStore runs fn atomically: either every write made through the Store passed
// to fn is kept, or none is.
type TxStore interface {
	Store
	RunInTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

type txKey struct{}

// WithTxKey tags ctx with the key that transactions touching the same rows
// share. In-process backends use it to serialize conflicting transactions and
// to hold keyed reads until those transactions finish.
func WithTxKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, txKey{}, key)
}

// TxKey returns the key set by WithTxKey.
func TxKey(ctx context.Context) string {
	key, _ := ctx.Value(txKey{}).(string)
	return key
}

// WithDefaultTimeout applies DefaultTxTimeout (or d when positive) if ctx has
// no deadline.
func WithDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	if d <= 0 {
		d = DefaultTxTimeout
	}
	return context.WithTimeout(ctx, d)
}
