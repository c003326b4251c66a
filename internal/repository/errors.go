// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios without
// inspecting driver-specific errors.
package repository

import "errors"

// ErrMovieNotFound is returned when no movie has the requested id.
var ErrMovieNotFound = errors.New("movie not found")

// ErrActorNotFound is returned when no actor has the requested id.
var ErrActorNotFound = errors.New("actor not found")

// ErrDuplicateTitle is returned when an insert or update would give two
// movies the same title. Handlers should translate this into a 422.
var ErrDuplicateTitle = errors.New("movie title already exists")
