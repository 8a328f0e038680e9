// Package memory is an in-process payment store with the same uniqueness
// guarantees as the database backends.
package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"circlesphere/internal/payment/models"
	"circlesphere/internal/payment/store"
	dErrors "circlesphere/pkg/domain-errors"
	"circlesphere/pkg/platform/sentinel"
)

// Transactions are serialized per shard of the tx key. Callers key by payer
// email, which every conflicting pair of transactions shares.
const numTxShards = 64

type Store struct {
	mu            sync.RWMutex
	payments      map[uuid.UUID]*models.Payment
	byIntent      map[string]uuid.UUID
	memberships   map[uuid.UUID]*models.Membership
	activeByOwner map[string]uuid.UUID
	registrations map[uuid.UUID]*models.EventRegistration
	regByPayment  map[uuid.UUID]uuid.UUID

	shards  [numTxShards]sync.Mutex
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

func New(opts ...Option) *Store {
	s := &Store{
		payments:      make(map[uuid.UUID]*models.Payment),
		byIntent:      make(map[string]uuid.UUID),
		memberships:   make(map[uuid.UUID]*models.Membership),
		activeByOwner: make(map[string]uuid.UUID),
		registrations: make(map[uuid.UUID]*models.EventRegistration),
		regByPayment:  make(map[uuid.UUID]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ownerKey(email, clubID string) string {
	return strings.ToLower(email) + "\x00" + clubID
}

func (s *Store) Ping(context.Context) error { return nil }

// Reads carrying a tx key wait for in-flight transactions on that key, so
// they only observe committed writes for the payer.
func (s *Store) lockKey(ctx context.Context) func() {
	key := store.TxKey(ctx)
	if key == "" {
		return func() {}
	}
	shard := s.shard(key)
	shard.Lock()
	return shard.Unlock
}

func (s *Store) shard(key string) *sync.Mutex {
	return &s.shards[hashKey(key)%numTxShards]
}

func (s *Store) FindPaymentByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	defer s.lockKey(ctx)()
	return s.findPaymentByIntentID(intentID)
}

func (s *Store) FindActiveMembership(ctx context.Context, email, clubID string) (*models.Membership, error) {
	defer s.lockKey(ctx)()
	return s.findActiveMembership(email, clubID)
}

func (s *Store) FindRegistrationByPaymentID(ctx context.Context, paymentID uuid.UUID) (*models.EventRegistration, error) {
	defer s.lockKey(ctx)()
	return s.findRegistrationByPaymentID(paymentID)
}

func (s *Store) findPaymentByIntentID(intentID string) (*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	p := *s.payments[id]
	return &p, nil
}

func (s *Store) findActiveMembership(email, clubID string) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.activeByOwner[ownerKey(email, clubID)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	m := *s.memberships[id]
	return &m, nil
}

func (s *Store) findRegistrationByPaymentID(paymentID uuid.UUID) (*models.EventRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.regByPayment[paymentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	r := *s.registrations[id]
	return &r, nil
}

func (s *Store) InsertPayment(_ context.Context, p *models.Payment) error {
	_, err := s.insertPayment(p)
	return err
}

func (s *Store) insertPayment(p *models.Payment) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byIntent[p.PaymentIntentID]; ok {
		return nil, fmt.Errorf("payment intent %s: %w", p.PaymentIntentID, sentinel.ErrAlreadyUsed)
	}
	cp := *p
	s.payments[p.ID] = &cp
	s.byIntent[p.PaymentIntentID] = p.ID
	return func() {
		delete(s.payments, p.ID)
		delete(s.byIntent, p.PaymentIntentID)
	}, nil
}

func (s *Store) InsertMembership(_ context.Context, m *models.Membership) error {
	_, err := s.insertMembership(m)
	return err
}

func (s *Store) insertMembership(m *models.Membership) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerKey(m.Email, m.ClubID)
	if m.Status == models.MembershipActive {
		if _, ok := s.activeByOwner[key]; ok {
			return nil, fmt.Errorf("active membership %s/%s: %w", m.Email, m.ClubID, sentinel.ErrAlreadyUsed)
		}
		s.activeByOwner[key] = m.ID
	}
	cp := *m
	s.memberships[m.ID] = &cp
	return func() {
		delete(s.memberships, m.ID)
		if s.activeByOwner[key] == m.ID {
			delete(s.activeByOwner, key)
		}
	}, nil
}

func (s *Store) ExpireMembership(_ context.Context, id uuid.UUID) error {
	_, err := s.expireMembership(id)
	return err
}

func (s *Store) expireMembership(id uuid.UUID) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	prev := m.Status
	key := ownerKey(m.Email, m.ClubID)
	m.Status = models.MembershipExpired
	if s.activeByOwner[key] == id {
		delete(s.activeByOwner, key)
	}
	return func() {
		m.Status = prev
		if prev == models.MembershipActive {
			s.activeByOwner[key] = id
		}
	}, nil
}

func (s *Store) InsertRegistration(_ context.Context, r *models.EventRegistration) error {
	_, err := s.insertRegistration(r)
	return err
}

func (s *Store) insertRegistration(r *models.EventRegistration) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.registrations[r.ID] = &cp
	s.regByPayment[r.PaymentID] = r.ID
	return func() {
		delete(s.registrations, r.ID)
		delete(s.regByPayment, r.PaymentID)
	}, nil
}

// RunInTx runs fn with a journaling view of the store. Writes are applied
// immediately and undone in reverse order if fn fails. Readers without the
// transaction's key can observe writes that are later rolled back.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	ctx, cancel := store.WithDefaultTimeout(ctx, s.timeout)
	defer cancel()

	shard := s.shard(store.TxKey(ctx))
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := &journal{Store: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction deadline exceeded")
	}
	return nil
}

type journal struct {
	*Store
	undo []func()
}

func (j *journal) record(undo func(), err error) error {
	if err != nil {
		return err
	}
	j.undo = append(j.undo, undo)
	return nil
}

// The journal already holds the shard, so its reads skip the key lock.
func (j *journal) FindPaymentByIntentID(_ context.Context, intentID string) (*models.Payment, error) {
	return j.findPaymentByIntentID(intentID)
}

func (j *journal) FindActiveMembership(_ context.Context, email, clubID string) (*models.Membership, error) {
	return j.findActiveMembership(email, clubID)
}

func (j *journal) FindRegistrationByPaymentID(_ context.Context, paymentID uuid.UUID) (*models.EventRegistration, error) {
	return j.findRegistrationByPaymentID(paymentID)
}

func (j *journal) InsertPayment(_ context.Context, p *models.Payment) error {
	return j.record(j.insertPayment(p))
}

func (j *journal) InsertMembership(_ context.Context, m *models.Membership) error {
	return j.record(j.insertMembership(m))
}

func (j *journal) ExpireMembership(_ context.Context, id uuid.UUID) error {
	return j.record(j.expireMembership(id))
}

func (j *journal) InsertRegistration(_ context.Context, r *models.EventRegistration) error {
	return j.record(j.insertRegistration(r))
}

func (j *journal) rollback() {
	j.Store.mu.Lock()
	defer j.Store.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func hashKey(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
