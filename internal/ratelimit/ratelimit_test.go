package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circlesphere/pkg/requestcontext"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingStore struct {
	err   error
	calls int
}

func (s *failingStore) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Allowed: true, Limit: 100, Remaining: 99, ResetAt: time.Now().Add(time.Minute)}, nil
}

func TestMemoryStoreSlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := NewMemoryStore()
	st.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		res, err := st.Allow(ctx, "member:ada@example.com", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := st.Allow(ctx, "member:ada@example.com", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.RetryAfter)

	t.Run("other keys are independent", func(t *testing.T) {
		res, err := st.Allow(ctx, "member:bob@example.com", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		now = now.Add(61 * time.Second)
		res, err := st.Allow(ctx, "member:ada@example.com", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Remaining)
	})
}

func TestLimiterFallsBackWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	primary := &failingStore{err: errors.New("redis down")}
	l := New(primary, 2, time.Minute, discardLogger())

	// Below the failure threshold errors surface and the caller fails open.
	for i := 0; i < 4; i++ {
		_, _, err := l.Check(ctx, "member:ada@example.com")
		require.Error(t, err)
	}

	res, degraded, err := l.Check(ctx, "member:ada@example.com")
	require.NoError(t, err)
	assert.True(t, degraded)
	assert.True(t, res.Allowed)

	t.Run("fallback still enforces the limit", func(t *testing.T) {
		_, _, err := l.Check(ctx, "member:ada@example.com")
		require.NoError(t, err)
		res, degraded, err := l.Check(ctx, "member:ada@example.com")
		require.NoError(t, err)
		assert.True(t, degraded)
		assert.False(t, res.Allowed)
	})

	t.Run("recovers after consecutive primary successes", func(t *testing.T) {
		primary.err = nil
		for i := 0; i < 2; i++ {
			_, degraded, err := l.Check(ctx, "member:bob@example.com")
			require.NoError(t, err)
			assert.True(t, degraded)
		}
		res, degraded, err := l.Check(ctx, "member:bob@example.com")
		require.NoError(t, err)
		assert.False(t, degraded, "third success closes the circuit")
		assert.Equal(t, 99, res.Remaining)
	})
}

func TestMiddleware(t *testing.T) {
	l := New(nil, 1, time.Minute, discardLogger())
	h := Middleware(l, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(subject string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payments/verify/cs_1", nil)
		if subject != "" {
			req = req.WithContext(requestcontext.WithSubject(req.Context(), subject))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("ada@example.com")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, first.Header().Get("X-RateLimit-Status"))

	second := send("ada@example.com")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limit_exceeded")

	t.Run("members are limited separately", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, send("bob@example.com").Code)
	})

	t.Run("anonymous callers are keyed by ip", func(t *testing.T) {
		assert.Equal(t, http.StatusNoContent, send("").Code)
		assert.Equal(t, http.StatusTooManyRequests, send("").Code)
	})
}

func TestMiddlewareFailsOpen(t *testing.T) {
	l := New(&failingStore{err: errors.New("redis down")}, 1, time.Minute, discardLogger())
	h := Middleware(l, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payments/checkout/event", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
