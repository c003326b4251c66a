package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/casting-agency/internal/apperr"
	"github.com/iliyamo/casting-agency/internal/metrics"
)

// RequirePermission aborts with no_permission unless the claims stored by
// Authenticate grant perm. It must run after Authenticate.
func RequirePermission(perm string, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !ClaimsFrom(c).HasPermission(perm) {
				m.AuthFailure(apperr.CodeNoPermission)
				return apperr.NewAuthError(apperr.CodeNoPermission, nil)
			}
			return next(c)
		}
	}
}
