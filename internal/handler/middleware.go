package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"swap-service/internal/token"
)

type contextKey string

const claimsKey contextKey = "token_claims"

// ClaimsFromContext returns the validated claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// RequireAuth validates the bearer token of the expected kind and stores
// its claims on the request context. Authentication failures are rejected
// before any handler state is touched.
func RequireAuth(tokens *token.Service, kind token.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := bearerToken(r)
			if credential == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := tokens.Validate(r.Context(), credential, kind)
			if err != nil {
				status, msg := authErrorStatus(err)
				writeError(w, status, msg)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, token.ErrExpired):
		return http.StatusUnauthorized, "token has expired"
	case errors.Is(err, token.ErrRevoked):
		return http.StatusUnauthorized, "token has been revoked"
	case errors.Is(err, token.ErrWrongTokenKind):
		return http.StatusForbidden, "wrong token kind"
	case errors.Is(err, token.ErrAccountDisabled):
		return http.StatusForbidden, "account is deactivated or not found"
	case errors.Is(err, token.ErrInvalidSignature),
		errors.Is(err, token.ErrMalformed):
		return http.StatusUnauthorized, "invalid token"
	default:
		return http.StatusInternalServerError, "authentication failed"
	}
}
