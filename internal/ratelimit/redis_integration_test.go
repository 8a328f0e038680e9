//go:build integration

package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"circlesphere/internal/ratelimit"
	"circlesphere/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ratelimit.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestLimitAndRemaining() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := s.store.Allow(ctx, "member:ada@example.com", 3, time.Minute)
		s.Require().NoError(err)
		s.True(res.Allowed)
		s.Equal(2-i, res.Remaining)
	}

	res, err := s.store.Allow(ctx, "member:ada@example.com", 3, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.GreaterOrEqual(res.RetryAfter, 1)
}

func (s *RedisStoreSuite) TestWindowExpires() {
	ctx := context.Background()
	_, err := s.store.Allow(ctx, "member:ada@example.com", 1, 200*time.Millisecond)
	s.Require().NoError(err)

	res, err := s.store.Allow(ctx, "member:ada@example.com", 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.False(res.Allowed)

	time.Sleep(300 * time.Millisecond)
	res, err = s.store.Allow(ctx, "member:ada@example.com", 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(res.Allowed)
}

// TestConcurrentRequestsRespectLimit verifies the script admits exactly limit
// requests under contention.
func (s *RedisStoreSuite) TestConcurrentRequestsRespectLimit() {
	ctx := context.Background()
	const goroutines = 50
	const limit = 10

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(ctx, "member:busy@example.com", limit, time.Minute)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(limit), allowed.Load())
}
