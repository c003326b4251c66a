package middleware

// identity.go holds the helpers that read what Authenticate stored. When
// no token was verified the subject is "anon".

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/casting-agency/internal/auth"
)

// ClaimsFrom returns the verified claims, or nil on unauthenticated routes.
func ClaimsFrom(c echo.Context) *auth.Claims {
	cl, _ := c.Get(ClaimsKey).(*auth.Claims)
	return cl
}

// Subject returns the token subject or "anon".
func Subject(c echo.Context) string {
	if s, ok := c.Get(UserIDKey).(string); ok && s != "" {
		return s
	}
	return "anon"
}
