package model

import "time"

// Movie represents a production the agency is casting for. This struct
// corresponds to a row in the `movies` table.
//
// Fields:
//  ID          - primary key identifier, assigned by the store.
//  Title       - globally unique, non-empty title.
//  ReleaseDate - planned or actual release date, kept in UTC.
type Movie struct {
	ID          int64     `json:"id"`           // movies.id
	Title       string    `json:"title"`        // movies.title
	ReleaseDate time.Time `json:"release_date"` // movies.release_date
}

// MoviePatch carries the fields of a partial movie update. A nil field is
// left untouched by the update.
type MoviePatch struct {
	Title       *string
	ReleaseDate *time.Time
}

// Empty reports whether the patch changes nothing.
func (p MoviePatch) Empty() bool {
	return p.Title == nil && p.ReleaseDate == nil
}
