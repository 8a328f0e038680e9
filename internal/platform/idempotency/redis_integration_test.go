//go:build integration

package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"circlesphere/internal/platform/idempotency"
	"circlesphere/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *idempotency.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = idempotency.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestClaimSaveLoad() {
	ctx := context.Background()

	claimed, err := s.store.Claim(ctx, "k1", time.Minute)
	s.Require().NoError(err)
	s.True(claimed)

	claimed, err = s.store.Claim(ctx, "k1", time.Minute)
	s.Require().NoError(err)
	s.False(claimed)

	rec, err := s.store.Load(ctx, "k1")
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.False(rec.Done)

	s.Require().NoError(s.store.Save(ctx, "k1", idempotency.Record{Done: true, Status: 200, Body: []byte(`{"ok":true}`)}, time.Minute))
	rec, err = s.store.Load(ctx, "k1")
	s.Require().NoError(err)
	s.True(rec.Done)
	s.Equal(200, rec.Status)
	s.JSONEq(`{"ok":true}`, string(rec.Body))
}

func (s *RedisStoreSuite) TestReleaseAllowsReclaim() {
	ctx := context.Background()
	_, err := s.store.Claim(ctx, "k2", time.Minute)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Release(ctx, "k2"))

	claimed, err := s.store.Claim(ctx, "k2", time.Minute)
	s.Require().NoError(err)
	s.True(claimed)
}

func (s *RedisStoreSuite) TestLoadMissing() {
	rec, err := s.store.Load(context.Background(), "absent")
	s.Require().NoError(err)
	s.Nil(rec)
}
