// Package mongo persists payments in MongoDB. Multi-document transactions
// require a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/store"
	dErrors "circlesphere/pkg/domain-errors"
	"circlesphere/pkg/platform/sentinel"
)

const (
	paymentsCollection      = "payments"
	membershipsCollection   = "memberships"
	registrationsCollection = "event_registrations"
)

type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	sess    mongo.Session
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

func New(client *mongo.Client, database string, opts ...Option) *Store {
	s := &Store{client: client, db: client.Database(database)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates the uniqueness indexes the store relies on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(paymentsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "payment_intent_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("payment_intent_unique"),
	})
	if err != nil {
		return fmt.Errorf("create payment index: %w", err)
	}
	_, err = s.db.Collection(membershipsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "email", Value: 1}, {Key: "club_id", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetName("active_membership_unique").
			SetPartialFilterExpression(bson.M{"status": string(models.MembershipActive)}),
	})
	if err != nil {
		return fmt.Errorf("create membership index: %w", err)
	}
	_, err = s.db.Collection(registrationsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "payment_id", Value: 1}},
		Options: options.Index().SetName("registration_payment"),
	})
	if err != nil {
		return fmt.Errorf("create registration index: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	ctx, cancel := store.WithDefaultTimeout(ctx, s.timeout)
	defer cancel()

	sess, err := s.client.StartSession()
	if err != nil {
		return classify(fmt.Errorf("start session: %w", err))
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(&Store{client: s.client, db: s.db, sess: sess})
	})
	if err != nil {
		if _, ok := dErrors.As(err); ok {
			return err
		}
		return classify(err)
	}
	return nil
}

func (s *Store) opCtx(ctx context.Context) context.Context {
	if s.sess != nil {
		return mongo.NewSessionContext(ctx, s.sess)
	}
	return ctx
}

type paymentDoc struct {
	ID              string    `bson:"_id"`
	Email           string    `bson:"email"`
	AmountMinor     int64     `bson:"amount_minor"`
	Kind            string    `bson:"kind"`
	TargetID        string    `bson:"target_id"`
	PaymentIntentID string    `bson:"payment_intent_id"`
	SessionID       string    `bson:"session_id"`
	Status          string    `bson:"status"`
	CreatedAt       time.Time `bson:"created_at"`
}

type membershipDoc struct {
	ID        string     `bson:"_id"`
	Email     string     `bson:"email"`
	ClubID    string     `bson:"club_id"`
	Status    string     `bson:"status"`
	PaymentID string     `bson:"payment_id"`
	JoinedAt  time.Time  `bson:"joined_at"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

type registrationDoc struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	EventID      string    `bson:"event_id"`
	PaymentID    string    `bson:"payment_id"`
	RegisteredAt time.Time `bson:"registered_at"`
}

func (s *Store) FindPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var doc paymentDoc
	err := s.db.Collection(paymentsCollection).
		FindOne(s.opCtx(ctx), bson.M{"payment_intent_id": intentID}).
		Decode(&doc)
	if err != nil {
		return nil, classify(fmt.Errorf("find payment by intent: %w", err))
	}
	return &models.Payment{
		ID:              uuid.MustParse(doc.ID),
		Email:           doc.Email,
		Amount:          models.Money(doc.AmountMinor),
		Kind:            models.Kind(doc.Kind),
		TargetID:        doc.TargetID,
		PaymentIntentID: doc.PaymentIntentID,
		SessionID:       doc.SessionID,
		Status:          models.PaymentStatus(doc.Status),
		CreatedAt:       doc.CreatedAt,
	}, nil
}

func (s *Store) FindActiveMembership(ctx context.Context, email, clubID string) (*models.Membership, error) {
	var doc membershipDoc
	err := s.db.Collection(membershipsCollection).
		FindOne(s.opCtx(ctx), bson.M{"email": email, "club_id": clubID, "status": string(models.MembershipActive)}).
		Decode(&doc)
	if err != nil {
		return nil, classify(fmt.Errorf("find active membership: %w", err))
	}
	return &models.Membership{
		ID:        uuid.MustParse(doc.ID),
		Email:     doc.Email,
		ClubID:    doc.ClubID,
		Status:    models.MembershipStatus(doc.Status),
		PaymentID: uuid.MustParse(doc.PaymentID),
		JoinedAt:  doc.JoinedAt,
		ExpiresAt: doc.ExpiresAt,
	}, nil
}

func (s *Store) FindRegistrationByPaymentID(ctx context.Context, paymentID uuid.UUID) (*models.EventRegistration, error) {
	var doc registrationDoc
	err := s.db.Collection(registrationsCollection).
		FindOne(s.opCtx(ctx), bson.M{"payment_id": paymentID.String()}).
		Decode(&doc)
	if err != nil {
		return nil, classify(fmt.Errorf("find registration: %w", err))
	}
	return &models.EventRegistration{
		ID:           uuid.MustParse(doc.ID),
		Email:        doc.Email,
		EventID:      doc.EventID,
		PaymentID:    uuid.MustParse(doc.PaymentID),
		RegisteredAt: doc.RegisteredAt,
	}, nil
}

func (s *Store) InsertPayment(ctx context.Context, p *models.Payment) error {
	_, err := s.db.Collection(paymentsCollection).InsertOne(s.opCtx(ctx), paymentDoc{
		ID:              p.ID.String(),
		Email:           p.Email,
		AmountMinor:     p.Amount.Minor(),
		Kind:            string(p.Kind),
		TargetID:        p.TargetID,
		PaymentIntentID: p.PaymentIntentID,
		SessionID:       p.SessionID,
		Status:          string(p.Status),
		CreatedAt:       p.CreatedAt,
	})
	if err != nil {
		return classify(fmt.Errorf("insert payment: %w", err))
	}
	return nil
}

func (s *Store) InsertMembership(ctx context.Context, m *models.Membership) error {
	_, err := s.db.Collection(membershipsCollection).InsertOne(s.opCtx(ctx), membershipDoc{
		ID:        m.ID.String(),
		Email:     m.Email,
		ClubID:    m.ClubID,
		Status:    string(m.Status),
		PaymentID: m.PaymentID.String(),
		JoinedAt:  m.JoinedAt,
		ExpiresAt: m.ExpiresAt,
	})
	if err != nil {
		return classify(fmt.Errorf("insert membership: %w", err))
	}
	return nil
}

func (s *Store) ExpireMembership(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.Collection(membershipsCollection).UpdateOne(s.opCtx(ctx),
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"status": string(models.MembershipExpired)}},
	)
	if err != nil {
		return classify(fmt.Errorf("expire membership: %w", err))
	}
	if res.MatchedCount == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Store) InsertRegistration(ctx context.Context, r *models.EventRegistration) error {
	_, err := s.db.Collection(registrationsCollection).InsertOne(s.opCtx(ctx), registrationDoc{
		ID:           r.ID.String(),
		Email:        r.Email,
		EventID:      r.EventID,
		PaymentID:    r.PaymentID.String(),
		RegisteredAt: r.RegisteredAt,
	})
	if err != nil {
		return classify(fmt.Errorf("insert registration: %w", err))
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return sentinel.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", sentinel.ErrAlreadyUsed, err)
	case errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "store deadline exceeded")
	case mongo.IsNetworkError(err):
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	default:
		return err
	}
}
