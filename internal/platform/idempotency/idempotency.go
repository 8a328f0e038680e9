// Package idempotency replays responses for requests carrying an
// Idempotency-Key header.
//
// The first request with a key claims it and runs the handler. A 2xx response
// is stored and replayed to later requests with the same key; any other
// response releases the key so the client can retry. A duplicate that arrives
// while the first request is still running gets 409.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	dErrors "circlesphere/pkg/domain-errors"
	"circlesphere/pkg/platform/httputil"
	"circlesphere/pkg/requestcontext"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	maxKeyLength   = 255
)

// Record is a stored response. Done is false while the first request runs.
type Record struct {
	Done        bool   `json:"done"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type Store interface {
	// Claim marks key as in flight. It reports false if the key already exists.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Load returns the record for key, or nil if there is none.
	Load(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type ctxKey struct{}

// KeyFromContext returns the scoped key of the current request, hashed to a
// fixed length suitable for forwarding to downstream providers.
func KeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(ctxKey{}).(string)
	return key
}

// Middleware enforces idempotency on the wrapped routes. Keys are scoped by
// authenticated subject, method and path. Store failures fail open.
func Middleware(st Store, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderKey)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxKeyLength {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "idempotency key is too long"))
				return
			}

			ctx := r.Context()
			key := scopedKey(requestcontext.Subject(ctx), r.Method, r.URL.Path, raw)

			claimed, err := st.Claim(ctx, key, ttl)
			if err != nil {
				logger.WarnContext(ctx, "idempotency store unavailable, continuing without replay",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				replay(w, r, st, key, logger)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				if completed {
					return
				}
				// The handler panicked; free the key before the panic reaches Recovery.
				if err := finalize(ctx, st, key, nil, ttl); err != nil {
					logger.WarnContext(ctx, "failed to release idempotency key after panic",
						"request_id", requestcontext.RequestID(ctx),
						"error", err,
					)
				}
			}()
			next.ServeHTTP(rec, r.WithContext(context.WithValue(ctx, ctxKey{}, key)))
			completed = true

			if err := finalize(ctx, st, key, rec, ttl); err != nil {
				logger.WarnContext(ctx, "failed to finalize idempotency key",
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
			}
		})
	}
}

// finalize stores a 2xx response for replay and releases the key otherwise.
// A nil recorder means the handler did not complete.
func finalize(ctx context.Context, st Store, key string, rec *recorder, ttl time.Duration) error {
	// The request context may already be cancelled.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if rec == nil || rec.status < 200 || rec.status >= 300 {
		return st.Release(storeCtx, key)
	}
	return st.Save(storeCtx, key, Record{
		Done:        true,
		Status:      rec.status,
		ContentType: rec.Header().Get("Content-Type"),
		Body:        rec.body.Bytes(),
	}, ttl)
}

func replay(w http.ResponseWriter, r *http.Request, st Store, key string, logger *slog.Logger) {
	ctx := r.Context()
	rec, err := st.Load(ctx, key)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load idempotency record",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load idempotent response"))
		return
	}
	if rec == nil || !rec.Done {
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "a request with this idempotency key is in progress"))
		return
	}
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(HeaderReplayed, strconv.FormatBool(true))
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

func scopedKey(subject, method, path, key string) string {
	sum := sha256.Sum256([]byte(subject + "\n" + method + "\n" + path + "\n" + key))
	return hex.EncodeToString(sum[:])
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
