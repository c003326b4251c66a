package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/casting-agency/internal/apperr"
	"github.com/iliyamo/casting-agency/internal/model"
	"github.com/iliyamo/casting-agency/internal/queue"
)

// ListActors handles GET /actors.
func (h *CastingHandler) ListActors(c echo.Context) error {
	actors, err := h.Actors.List(c.Request().Context())
	if err != nil {
		return h.storeError(c, queue.ResourceActor, 0, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "actors": actors})
}

// actorFields reads the actor fields present in p.
func actorFields(p payload) (model.ActorPatch, error) {
	var (
		patch model.ActorPatch
		err   error
	)
	if patch.Name, err = p.String("name"); err != nil {
		return patch, err
	}
	if patch.Age, err = p.Int("age"); err != nil {
		return patch, err
	}
	if patch.Age != nil && *patch.Age <= 0 {
		return patch, apperr.Invalid("age must be positive")
	}
	if patch.Gender, err = p.String("gender"); err != nil {
		return patch, err
	}
	return patch, nil
}

// CreateActor handles POST /actors. Name, age and gender are required.
func (h *CastingHandler) CreateActor(c echo.Context) error {
	p, err := readPayload(c)
	if err != nil {
		return err
	}
	f, err := actorFields(p)
	if err != nil {
		return err
	}
	switch {
	case f.Name == nil:
		return apperr.Invalid("name is required")
	case f.Age == nil:
		return apperr.Invalid("age is required")
	case f.Gender == nil:
		return apperr.Invalid("gender is required")
	}

	a := &model.Actor{Name: *f.Name, Age: *f.Age, Gender: *f.Gender}
	if err := h.Actors.Create(c.Request().Context(), a); err != nil {
		return h.storeError(c, queue.ResourceActor, 0, err)
	}
	h.publish(c, queue.ResourceActor, queue.ActionCreated, a.ID, a)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "actor": a})
}

// UpdateActor handles PATCH /actors/:id.
func (h *CastingHandler) UpdateActor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := readPayload(c)
	if err != nil {
		return err
	}
	patch, err := actorFields(p)
	if err != nil {
		return err
	}
	if patch.Empty() {
		return apperr.Invalid("at least one of name, age, gender is required")
	}

	a, err := h.Actors.Update(c.Request().Context(), id, patch)
	if err != nil {
		return h.storeError(c, queue.ResourceActor, id, err)
	}
	h.publish(c, queue.ResourceActor, queue.ActionUpdated, a.ID, a)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "actor": a})
}

// DeleteActor handles DELETE /actors/:id.
func (h *CastingHandler) DeleteActor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.Actors.Delete(c.Request().Context(), id); err != nil {
		return h.storeError(c, queue.ResourceActor, id, err)
	}
	h.publish(c, queue.ResourceActor, queue.ActionDeleted, id, nil)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "deleted_actor": id})
}
