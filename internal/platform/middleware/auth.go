package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "circlesphere/pkg/domain-errors"
	"circlesphere/pkg/platform/httputil"
	"circlesphere/pkg/requestcontext"
)

// TokenValidator verifies a bearer credential and returns the subject email.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims is what the middleware needs from a validated token.
type Claims struct {
	Email string
}

// GetSubject retrieves the authenticated email from the request context.
func GetSubject(r *http.Request) string {
	return requestcontext.Subject(r.Context())
}

// RequireAuth rejects requests without a valid bearer token and stores the
// subject email in the context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "unauthorized access"))
				return
			}

			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil || claims.Email == "" {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "unauthorized access"))
				return
			}

			ctx = requestcontext.WithSubject(ctx, strings.ToLower(claims.Email))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
