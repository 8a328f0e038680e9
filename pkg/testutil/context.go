package testutil

import (
	"context"
	"net/http"

	"circlesphere/pkg/requestcontext"
)

// WithSubject adds an authenticated subject (email) to the request context.
// This simulates what the auth middleware does for authenticated requests.
func WithSubject(req *http.Request, email string) *http.Request {
	if email == "" {
		return req
	}
	return req.WithContext(requestcontext.WithSubject(req.Context(), email))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
