package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/casting-agency/internal/apperr"
	"github.com/iliyamo/casting-agency/internal/metrics"
)

// Metrics records request count and latency per route template. Requests
// that matched no route share the "unmatched" label.
func Metrics(m *metrics.Metrics) echo.MiddlewareFunc {
	if m == nil {
		return passthrough
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = apperr.HTTPStatus(err)
			}
			route := c.Path()
			if route == "" || (status == http.StatusNotFound && route == "/*") {
				route = "unmatched"
			}
			method := c.Request().Method

			m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
