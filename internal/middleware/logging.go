package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/casting-agency/internal/apperr"
)

// RequestLogger logs one entry per request. HandleError makes the logged
// status match what the error handler renders.
func RequestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogRequestID: true,
		LogMethod:    true,
		LogRoutePath: true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"request_id": v.RequestID,
				"method":     v.Method,
				"route":      v.RoutePath,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"remote_ip":  v.RemoteIP,
				"subject":    Subject(c),
			})
			switch {
			case v.Error == nil:
				entry.Info("request")
			case apperr.HTTPStatus(v.Error) >= 500:
				entry.WithError(v.Error).Error("request failed")
			default:
				entry.WithError(v.Error).Warn("request rejected")
			}
			return nil
		},
	})
}
