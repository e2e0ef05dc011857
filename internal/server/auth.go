package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/storywall/api-gateway/internal/httpx"
)

// Principal is the identity decoded from a verified bearer token.
type Principal struct {
	ID   string
	Role string
}

type principalKey struct{}

// PrincipalFromContext returns the verified identity attached by
// AuthMiddleware, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// errNoSecret marks a verification attempt without a configured secret.
// It is a server misconfiguration, not a client error.
var errNoSecret = errors.New("jwt secret is not configured")

// AuthMiddleware verifies an HS256 bearer token on protected routes.
// Missing or non-bearer Authorization headers fail with NO_TOKEN; expired
// or otherwise invalid tokens with INVALID_TOKEN. Verification failures
// that are not the token's fault surface as SERVER_ERROR.
//
// On success the decoded identity is attached to the request context and
// forwarded to the backend as X-User-ID / X-User-Role headers.
func AuthMiddleware(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeNoToken,
					"Authentication token is required")
				return
			}

			claims := jwt.MapClaims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				if secret == "" {
					return nil, errNoSecret
				}
				return []byte(secret), nil
			})
			if err != nil {
				if isTokenError(err) {
					httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeInvalidToken,
						"Authentication token is invalid or expired")
					return
				}
				// Unexpected failure mode, e.g. misconfigured secret.
				logger.Error("token verification failed",
					slog.String("request_id", httpx.RequestID(r.Context())),
					slog.String("error", err.Error()),
				)
				httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeServerError,
					"An unexpected error occurred")
				return
			}

			principal := Principal{
				ID:   stringClaim(claims, "id", "sub"),
				Role: stringClaim(claims, "role"),
			}

			// Strip any client-supplied identity headers before setting
			// the verified ones for the backend.
			r.Header.Del("X-User-ID")
			r.Header.Del("X-User-Role")
			if principal.ID != "" {
				r.Header.Set("X-User-ID", principal.ID)
			}
			if principal.Role != "" {
				r.Header.Set("X-User-Role", principal.Role)
			}

			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// Returns empty for a missing header or any other scheme.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// isTokenError reports whether err is the token's fault (invalid,
// expired, malformed) as opposed to a verifier failure.
func isTokenError(err error) bool {
	return errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenUnverifiable) && !errors.Is(err, errNoSecret) ||
		errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
		errors.Is(err, jwt.ErrSignatureInvalid) ||
		errors.Is(err, jwt.ErrTokenExpired) ||
		errors.Is(err, jwt.ErrTokenNotValidYet)
}

func stringClaim(claims jwt.MapClaims, names ...string) string {
	for _, name := range names {
		if v, ok := claims[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
