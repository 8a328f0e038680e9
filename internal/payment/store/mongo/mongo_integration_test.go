//go:build integration

package mongo_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/provider"
	"circlesphere/internal/payment/provider/fake"
	"circlesphere/internal/payment/service"
	"circlesphere/internal/payment/store"
	mongostore "circlesphere/internal/payment/store/mongo"
	"circlesphere/pkg/platform/sentinel"
	"circlesphere/pkg/testutil/containers"
)

type MongoStoreSuite struct {
	suite.Suite
	mongo  *containers.MongoContainer
	dbName string
	store  *mongostore.Store
}

func TestMongoStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(MongoStoreSuite))
}

func (s *MongoStoreSuite) SetupSuite() {
	s.mongo = containers.GetManager().GetMongo(s.T())
}

func (s *MongoStoreSuite) SetupTest() {
	s.dbName = "circlesphere_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	s.store = mongostore.New(s.mongo.Client, s.dbName)
	s.Require().NoError(s.store.EnsureIndexes(context.Background()))
}

func (s *MongoStoreSuite) TearDownTest() {
	s.NoError(s.mongo.DropDatabase(context.Background(), s.dbName))
}

func newPayment(intent string, kind models.Kind, target string) *models.Payment {
	return &models.Payment{
		ID:              uuid.New(),
		Email:           "ada@example.com",
		Amount:          2500,
		Kind:            kind,
		TargetID:        target,
		PaymentIntentID: intent,
		SessionID:       "cs_" + intent,
		Status:          models.PaymentStatusCompleted,
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func newMembership(paymentID uuid.UUID) *models.Membership {
	return &models.Membership{
		ID:        uuid.New(),
		Email:     "ada@example.com",
		ClubID:    "club-1",
		Status:    models.MembershipActive,
		PaymentID: paymentID,
		JoinedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *MongoStoreSuite) TestPaymentRoundTripAndUniqueness() {
	ctx := context.Background()
	p := newPayment("pi_1", models.KindMembership, "club-1")
	s.Require().NoError(s.store.InsertPayment(ctx, p))

	found, err := s.store.FindPaymentByIntentID(ctx, "pi_1")
	s.Require().NoError(err)
	s.Equal(p.ID, found.ID)
	s.Equal(p.Amount, found.Amount)
	s.True(p.CreatedAt.Equal(found.CreatedAt))

	err = s.store.InsertPayment(ctx, newPayment("pi_1", models.KindMembership, "club-1"))
	s.True(errors.Is(err, sentinel.ErrAlreadyUsed))

	_, err = s.store.FindPaymentByIntentID(ctx, "pi_missing")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *MongoStoreSuite) TestActiveMembershipPartialIndex() {
	ctx := context.Background()
	first := newMembership(uuid.New())
	s.Require().NoError(s.store.InsertMembership(ctx, first))

	err := s.store.InsertMembership(ctx, newMembership(uuid.New()))
	s.True(errors.Is(err, sentinel.ErrAlreadyUsed))

	s.Require().NoError(s.store.ExpireMembership(ctx, first.ID))
	s.Require().NoError(s.store.InsertMembership(ctx, newMembership(uuid.New())))

	s.True(errors.Is(s.store.ExpireMembership(ctx, uuid.New()), sentinel.ErrNotFound))
}

func (s *MongoStoreSuite) TestRunInTx_RollsBack() {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		p := newPayment("pi_rb", models.KindEvent, "evt-1")
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		r := &models.EventRegistration{ID: uuid.New(), Email: p.Email, EventID: "evt-1", PaymentID: p.ID, RegisteredAt: time.Now()}
		if err := tx.InsertRegistration(ctx, r); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.FindPaymentByIntentID(ctx, "pi_rb")
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *MongoStoreSuite) TestConcurrentVerificationRecordsOnce() {
	ctx := context.Background()
	prov := fake.New()
	prov.Put(provider.SessionState{
		ID:              "cs_mongo",
		PaymentStatus:   provider.PaymentStatusPaid,
		PaymentIntentID: "pi_mongo",
		AmountTotal:     4000,
		CustomerEmail:   "ada@example.com",
		Metadata:        models.ClubTarget{ClubID: "club-7"}.Metadata(),
	})
	svc := service.New(prov, s.store, service.Config{SiteURL: "https://app.example.com", Currency: "usd"},
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	var fresh atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			out, err := svc.VerifyAndReconcile(ctx, "cs_mongo")
			if err != nil {
				return err
			}
			if !out.AlreadyRecorded {
				fresh.Add(1)
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(int32(1), fresh.Load())

	active, err := s.store.FindActiveMembership(ctx, "ada@example.com", "club-7")
	s.Require().NoError(err)
	s.Equal("club-7", active.ClubID)
}
