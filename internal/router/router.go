package router // package router defines how HTTP routes are registered for the API

import (
	"context"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/casting-agency/internal/auth"
	"github.com/iliyamo/casting-agency/internal/config"
	"github.com/iliyamo/casting-agency/internal/handler"
	"github.com/iliyamo/casting-agency/internal/metrics"
	"github.com/iliyamo/casting-agency/internal/middleware"
)

// New builds the Echo instance with the global middleware chain and the
// JSON error envelope. Request ids are assigned first so every log line
// and error response can carry one; Recover sits innermost so a panic
// becomes an error the logger and metrics still see.
func New(log logrus.FieldLogger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewErrorHandler(log)

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(middleware.Metrics(m))
	e.Use(echomw.Recover())
	return e
}

// RegisterRoutes registers the unauthenticated probes. rdb may be nil.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, rdb *redis.Client) {
	e.GET("/healthz", handler.Health)

	var pingRedis handler.RedisPinger
	if rdb != nil {
		pingRedis = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	e.GET("/readyz", handler.Ready(db, pingRedis))
}

// RegisterMetrics exposes the Prometheus registry at /metrics.
func RegisterMetrics(e *echo.Echo, m *metrics.Metrics) {
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
}

// Guards carries what the per-route middleware chain needs. Redis may be
// nil, which disables rate limiting and the list cache.
type Guards struct {
	Verifier  middleware.TokenVerifier
	Metrics   *metrics.Metrics
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Log       logrus.FieldLogger
}

// RegisterCasting registers the movie and actor endpoints. Each route gets
// its own chain (authenticate, rate limit, permission, cache) instead of a
// group so unknown paths still answer 404 rather than 401.
func RegisterCasting(e *echo.Echo, h *handler.CastingHandler, g Guards) {
	authenticate := middleware.Authenticate(g.Verifier, g.Metrics)
	limit := middleware.NewTokenBucket(g.RateLimit, g.Redis, g.Metrics, g.Log)
	caches := map[string]echo.MiddlewareFunc{
		"movies": middleware.NewListCache(g.Cache, g.Redis, "movies", g.Metrics, g.Log),
		"actors": middleware.NewListCache(g.Cache, g.Redis, "actors", g.Metrics, g.Log),
	}
	guard := func(perm, collection string) []echo.MiddlewareFunc {
		return []echo.MiddlewareFunc{
			authenticate,
			limit,
			middleware.RequirePermission(perm, g.Metrics),
			caches[collection],
		}
	}

	// ---- Movies ----
	e.GET("/movies", h.ListMovies, guard(auth.PermGetMovies, "movies")...)
	e.POST("/movies", h.CreateMovie, guard(auth.PermPostMovies, "movies")...)
	e.PATCH("/movies/:id", h.UpdateMovie, guard(auth.PermPatchMovies, "movies")...)
	e.DELETE("/movies/:id", h.DeleteMovie, guard(auth.PermDeleteMovies, "movies")...)

	// ---- Actors ----
	e.GET("/actors", h.ListActors, guard(auth.PermGetActors, "actors")...)
	e.POST("/actors", h.CreateActor, guard(auth.PermPostActors, "actors")...)
	e.PATCH("/actors/:id", h.UpdateActor, guard(auth.PermPatchActors, "actors")...)
	e.DELETE("/actors/:id", h.DeleteActor, guard(auth.PermDeleteActors, "actors")...)
}
