package handler // handler defines the HTTP handlers of the casting API

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/casting-agency/internal/apperr"
	"github.com/iliyamo/casting-agency/internal/middleware"
	"github.com/iliyamo/casting-agency/internal/model"
	"github.com/iliyamo/casting-agency/internal/queue"
	"github.com/iliyamo/casting-agency/internal/repository"
	"github.com/iliyamo/casting-agency/internal/service"
)

// MovieStore is the persistence the movie handlers need; *repository.MovieRepo
// implements it.
type MovieStore interface {
	List(ctx context.Context) ([]model.Movie, error)
	Create(ctx context.Context, m *model.Movie) error
	Update(ctx context.Context, id int64, p model.MoviePatch) (*model.Movie, error)
	Delete(ctx context.Context, id int64) error
}

// ActorStore is the actor counterpart of MovieStore.
type ActorStore interface {
	List(ctx context.Context) ([]model.Actor, error)
	Create(ctx context.Context, a *model.Actor) error
	Update(ctx context.Context, id int64, p model.ActorPatch) (*model.Actor, error)
	Delete(ctx context.Context, id int64) error
}

// CastingHandler serves the movie and actor endpoints. Permission checks
// happen in middleware before any of its methods run.
type CastingHandler struct {
	Movies MovieStore
	Actors ActorStore
	Events service.EventPublisher
	Log    logrus.FieldLogger
}

// NewCastingHandler panics if a dependency is missing.
func NewCastingHandler(movies MovieStore, actors ActorStore, events service.EventPublisher, log logrus.FieldLogger) *CastingHandler {
	if movies == nil || actors == nil || events == nil || log == nil {
		panic("nil dependency passed to NewCastingHandler")
	}
	return &CastingHandler{Movies: movies, Actors: actors, Events: events, Log: log}
}

// publish emits a casting event for a successful write. It never fails
// the request.
func (h *CastingHandler) publish(c echo.Context, resource, action string, id int64, data any) {
	ev := queue.NewEvent(resource, action, id, middleware.Subject(c), data)
	h.Events.Publish(context.WithoutCancel(c.Request().Context()), ev)
}

// storeError translates repository errors into the API taxonomy. Errors
// without a sentinel are logged with the request id and reported as
// unprocessable.
func (h *CastingHandler) storeError(c echo.Context, resource string, id int64, err error) error {
	switch {
	case errors.Is(err, repository.ErrMovieNotFound), errors.Is(err, repository.ErrActorNotFound):
		return &apperr.NotFoundError{Resource: resource, ID: id}
	case errors.Is(err, repository.ErrDuplicateTitle):
		return apperr.Unprocessable(repository.ErrDuplicateTitle.Error(), err)
	}
	h.Log.WithFields(logrus.Fields{
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		"resource":   resource,
	}).WithError(err).Error("store operation failed")
	return apperr.Unprocessable("unprocessable", err)
}
