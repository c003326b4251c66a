package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/casting-agency/internal/apperr"
	"github.com/iliyamo/casting-agency/internal/model"
	"github.com/iliyamo/casting-agency/internal/queue"
)

// ListMovies handles GET /movies.
func (h *CastingHandler) ListMovies(c echo.Context) error {
	movies, err := h.Movies.List(c.Request().Context())
	if err != nil {
		return h.storeError(c, queue.ResourceMovie, 0, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "movies": movies})
}

// CreateMovie handles POST /movies. Both title and release_date are required.
func (h *CastingHandler) CreateMovie(c echo.Context) error {
	p, err := readPayload(c)
	if err != nil {
		return err
	}
	title, err := p.String("title")
	if err != nil {
		return err
	}
	released, err := p.Date("release_date")
	if err != nil {
		return err
	}
	if title == nil {
		return apperr.Invalid("title is required")
	}
	if released == nil {
		return apperr.Invalid("release_date is required")
	}

	m := &model.Movie{Title: *title, ReleaseDate: *released}
	if err := h.Movies.Create(c.Request().Context(), m); err != nil {
		return h.storeError(c, queue.ResourceMovie, 0, err)
	}
	h.publish(c, queue.ResourceMovie, queue.ActionCreated, m.ID, m)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "movie": m})
}

// UpdateMovie handles PATCH /movies/:id. Only supplied fields change.
func (h *CastingHandler) UpdateMovie(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := readPayload(c)
	if err != nil {
		return err
	}
	var patch model.MoviePatch
	if patch.Title, err = p.String("title"); err != nil {
		return err
	}
	if patch.ReleaseDate, err = p.Date("release_date"); err != nil {
		return err
	}
	if patch.Empty() {
		return apperr.Invalid("at least one of title, release_date is required")
	}

	m, err := h.Movies.Update(c.Request().Context(), id, patch)
	if err != nil {
		return h.storeError(c, queue.ResourceMovie, id, err)
	}
	h.publish(c, queue.ResourceMovie, queue.ActionUpdated, m.ID, m)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "movie": m})
}

// DeleteMovie handles DELETE /movies/:id.
func (h *CastingHandler) DeleteMovie(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.Movies.Delete(c.Request().Context(), id); err != nil {
		return h.storeError(c, queue.ResourceMovie, id, err)
	}
	h.publish(c, queue.ResourceMovie, queue.ActionDeleted, id, nil)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "deleted_movie": id})
}
