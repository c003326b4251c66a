package main // Entry point of the casting agency API

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/casting-agency/internal/auth"
	"github.com/iliyamo/casting-agency/internal/config"
	"github.com/iliyamo/casting-agency/internal/database"
	"github.com/iliyamo/casting-agency/internal/handler"
	"github.com/iliyamo/casting-agency/internal/logging"
	"github.com/iliyamo/casting-agency/internal/metrics"
	"github.com/iliyamo/casting-agency/internal/repository"
	"github.com/iliyamo/casting-agency/internal/router"
	"github.com/iliyamo/casting-agency/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.WithField("env", cfg.Env).Info("starting casting agency API")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dialect, err := database.Open(database.Options{
		Driver: cfg.DB.Driver,
		DSN:    cfg.DB.URL,
		User:   cfg.DB.User,
		Pass:   cfg.DB.Pass,
		Host:   cfg.DB.Host,
		Port:   cfg.DB.Port,
		Name:   cfg.DB.Name,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		applied, err := database.Migrate(ctx, db, dialect)
		if err != nil {
			logger.WithError(err).Fatal("failed to migrate database")
		}
		logger.WithField("applied", applied).Info("database migrated")
	}

	keys, err := auth.NewKeySource(ctx, auth.Sources{
		Secret:      cfg.Auth.JWTSecret,
		JWKSURL:     cfg.Auth.JWKSURL,
		Issuer:      cfg.Auth.Issuer,
		JWKSRefresh: cfg.Auth.JWKSRefresh,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to set up token verification")
	}
	verifier := auth.NewVerifier(keys, auth.Options{
		Algorithms: cfg.Auth.Algorithms,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Leeway:     cfg.Auth.Leeway,
	})

	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable; rate limiting and caching disabled")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	m := metrics.New()
	// the publisher outlives ctx so requests drained during shutdown can
	// still emit their events
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	events, runEvents := newPublisher(cfg.Events, logger, m)
	if runEvents != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = runEvents(pubCtx)
		}()
	}

	e := router.New(logger, m)
	router.RegisterRoutes(e, db, rdb)
	router.RegisterMetrics(e, m)
	h := handler.NewCastingHandler(
		repository.NewMovieRepo(db, dialect),
		repository.NewActorRepo(db, dialect),
		events,
		logger,
	)
	router.RegisterCasting(e, h, router.Guards{
		Verifier:  verifier,
		Metrics:   m,
		Redis:     rdb,
		RateLimit: cfg.RateLimit,
		Cache:     cfg.Cache,
		Log:       logger,
	})

	addr := ":" + cfg.Port
	go func() {
		logger.WithField("addr", addr).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown did not complete cleanly")
	}
	stopPublisher()
	wg.Wait()
	logger.Info("server stopped")
}

// newPublisher returns the event publisher and, when events are enabled,
// the worker that must run for it to deliver anything.
func newPublisher(cfg config.EventsConfig, logger *logrus.Logger, m *metrics.Metrics) (service.EventPublisher, func(context.Context) error) {
	if !cfg.Enabled {
		return service.NopPublisher{Log: logger}, nil
	}
	p := service.NewAMQPPublisher(cfg.URL, cfg.Queue, cfg.Buffer, logger.WithField("component", "events"), m)
	return p, p.Run
}
