// Package postgres persists payments in PostgreSQL through database/sql.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/store"
	dErrors "circlesphere/pkg/domain-errors"
	"circlesphere/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Migrate creates the payment tables and indexes if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply payment schema: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db      *sql.DB
	q       querier
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTxTimeout bounds transactions whose context carries no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, q: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	ctx, cancel := store.WithDefaultTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction deadline exceeded")
		}
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

const paymentColumns = `id, email, amount_minor, kind, target_id, payment_intent_id, session_id, status, created_at`

func (s *Store) FindPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var p models.Payment
	var amount int64
	err := s.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payment_intent_id = $1`, intentID,
	).Scan(&p.ID, &p.Email, &amount, &p.Kind, &p.TargetID, &p.PaymentIntentID, &p.SessionID, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify(fmt.Errorf("find payment by intent: %w", err))
	}
	p.Amount = models.Money(amount)
	return &p, nil
}

func (s *Store) FindActiveMembership(ctx context.Context, email, clubID string) (*models.Membership, error) {
	var m models.Membership
	var expiresAt sql.NullTime
	err := s.q.QueryRowContext(ctx, `
		SELECT id, email, club_id, status, payment_id, joined_at, expires_at
		FROM memberships
		WHERE email = $1 AND club_id = $2 AND status = 'active'`,
		email, clubID,
	).Scan(&m.ID, &m.Email, &m.ClubID, &m.Status, &m.PaymentID, &m.JoinedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify(fmt.Errorf("find active membership: %w", err))
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	return &m, nil
}

func (s *Store) FindRegistrationByPaymentID(ctx context.Context, paymentID uuid.UUID) (*models.EventRegistration, error) {
	var r models.EventRegistration
	err := s.q.QueryRowContext(ctx, `
		SELECT id, email, event_id, payment_id, registered_at
		FROM event_registrations
		WHERE payment_id = $1
		ORDER BY registered_at
		LIMIT 1`, paymentID,
	).Scan(&r.ID, &r.Email, &r.EventID, &r.PaymentID, &r.RegisteredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify(fmt.Errorf("find registration: %w", err))
	}
	return &r, nil
}

func (s *Store) InsertPayment(ctx context.Context, p *models.Payment) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Email, p.Amount.Minor(), p.Kind, p.TargetID, p.PaymentIntentID, p.SessionID, p.Status, p.CreatedAt,
	)
	if err != nil {
		return classify(fmt.Errorf("insert payment: %w", err))
	}
	return nil
}

func (s *Store) InsertMembership(ctx context.Context, m *models.Membership) error {
	var expiresAt sql.NullTime
	if m.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *m.ExpiresAt, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO memberships (id, email, club_id, status, payment_id, joined_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.Email, m.ClubID, m.Status, m.PaymentID, m.JoinedAt, expiresAt,
	)
	if err != nil {
		return classify(fmt.Errorf("insert membership: %w", err))
	}
	return nil
}

func (s *Store) ExpireMembership(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `UPDATE memberships SET status = 'expired' WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("expire membership: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("expire membership: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) InsertRegistration(ctx context.Context, r *models.EventRegistration) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO event_registrations (id, email, event_id, payment_id, registered_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.Email, r.EventID, r.PaymentID, r.RegisteredAt,
	)
	if err != nil {
		return classify(fmt.Errorf("insert registration: %w", err))
	}
	return nil
}

// classify maps driver errors onto sentinel errors. Both the pgx stdlib
// driver and lib/pq are supported.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", sentinel.ErrAlreadyUsed, pgErr.ConstraintName)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%w: %s", sentinel.ErrAlreadyUsed, pqErr.Constraint)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "store deadline exceeded")
	}
	if errors.Is(err, sql.ErrConnDone) || isConnError(err) {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return err
}

func isConnError(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
