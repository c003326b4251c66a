package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health is the liveness probe. It returns plain text "ok" with 200.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RedisPinger reports whether redis answers. A nil RedisPinger means redis
// is not configured.
type RedisPinger func(ctx context.Context) error

// Ready returns the readiness probe: 200 when the database answers, 503
// otherwise. Redis is reported but optional since the API degrades
// without it.
func Ready(db Pinger, redis RedisPinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		dbState := "ok"
		if err := db.PingContext(ctx); err != nil {
			dbState = "unavailable"
			status = http.StatusServiceUnavailable
		}
		redisState := "disabled"
		if redis != nil {
			redisState = "ok"
			if err := redis(ctx); err != nil {
				redisState = "unavailable"
			}
		}
		return c.JSON(status, echo.Map{
			"success":  status == http.StatusOK,
			"database": dbState,
			"redis":    redisState,
		})
	}
}
