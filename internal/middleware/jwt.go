package middleware // reusable Echo middleware for the casting routes

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/casting-agency/internal/apperr"
	"github.com/iliyamo/casting-agency/internal/auth"
	"github.com/iliyamo/casting-agency/internal/metrics"
)

// Context keys set by Authenticate.
const (
	ClaimsKey = "claims"
	UserIDKey = "user_id"
)

// TokenVerifier decodes a raw bearer token. *auth.Verifier satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.Claims, error)
}

// Authenticate validates the bearer token on every request it wraps and
// stores the decoded claims in the context under ClaimsKey, and the
// subject under UserIDKey. Failures are returned as *apperr.AuthError so
// the error handler renders them as 401.
func Authenticate(v TokenVerifier, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, aerr := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if aerr != nil {
				m.AuthFailure(aerr.Code)
				return aerr
			}

			claims, err := v.Verify(c.Request().Context(), raw)
			if err != nil {
				var ae *apperr.AuthError
				if errors.As(err, &ae) {
					m.AuthFailure(ae.Code)
				}
				return err
			}

			c.Set(ClaimsKey, claims)
			c.Set(UserIDKey, claims.Subject)
			return next(c)
		}
	}
}

// bearerToken splits "Bearer <token>". The scheme is matched case
// insensitively; anything other than exactly two parts is malformed.
func bearerToken(header string) (string, *apperr.AuthError) {
	if header == "" {
		return "", apperr.NewAuthError(apperr.CodeMissingHeader, nil)
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", apperr.NewAuthError(apperr.CodeMalformedHeader, nil)
	}
	return parts[1], nil
}
