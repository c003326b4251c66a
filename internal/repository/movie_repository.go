package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/casting-agency/internal/database"
	"github.com/iliyamo/casting-agency/internal/model"
)

// MovieRepo encapsulates all database queries related to movies.
type MovieRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewMovieRepo constructs a MovieRepo with the provided DB handle and the
// dialect it was opened with.
func NewMovieRepo(db *sql.DB, d database.Dialect) *MovieRepo {
	return &MovieRepo{db: db, dialect: d}
}

// List returns every movie ordered by id. An empty table yields an empty,
// non-nil slice.
func (r *MovieRepo) List(ctx context.Context) ([]model.Movie, error) {
	const q = "SELECT id, title, release_date FROM movies ORDER BY id"
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Movie{}
	for rows.Next() {
		var m model.Movie
		if err := rows.Scan(&m.ID, &m.Title, &m.ReleaseDate); err != nil {
			return nil, err
		}
		m.ReleaseDate = m.ReleaseDate.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID fetches a movie by its id. It returns ErrMovieNotFound if no
// row is found.
func (r *MovieRepo) GetByID(ctx context.Context, id int64) (*model.Movie, error) {
	const q = "SELECT id, title, release_date FROM movies WHERE id = ?"
	var m model.Movie
	if err := r.db.QueryRowContext(ctx, r.dialect.Rebind(q), id).Scan(&m.ID, &m.Title, &m.ReleaseDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMovieNotFound
		}
		return nil, err
	}
	m.ReleaseDate = m.ReleaseDate.UTC()
	return &m, nil
}

// Create inserts a new movie. On success the movie's ID field is populated
// with the generated value. A title clash yields ErrDuplicateTitle.
func (r *MovieRepo) Create(ctx context.Context, m *model.Movie) error {
	const q = "INSERT INTO movies (title, release_date) VALUES (?, ?)"
	// DATETIME keeps whole seconds; match what a later read returns
	m.ReleaseDate = m.ReleaseDate.UTC().Truncate(time.Second)
	id, err := r.dialect.InsertID(ctx, r.db, q, m.Title, m.ReleaseDate)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return ErrDuplicateTitle
		}
		return err
	}
	m.ID = id
	return nil
}

// Update applies the non-nil fields of patch to the movie and returns the
// stored record afterwards. Fields absent from the patch keep their value.
// An unknown id yields ErrMovieNotFound before anything is written.
func (r *MovieRepo) Update(ctx context.Context, id int64, p model.MoviePatch) (*model.Movie, error) {
	var (
		sets []string
		args []any
	)
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.ReleaseDate != nil {
		sets = append(sets, "release_date = ?")
		args = append(args, p.ReleaseDate.UTC().Truncate(time.Second))
	}
	current, err := r.GetByID(ctx, id)
	if err != nil || len(sets) == 0 {
		return current, err
	}

	q := "UPDATE movies SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(q), args...); err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return nil, ErrDuplicateTitle
		}
		return nil, err
	}
	// MySQL reports zero affected rows when the values are unchanged, so
	// existence is decided by the reload rather than RowsAffected.
	return r.GetByID(ctx, id)
}

// Delete removes the movie permanently. It returns ErrMovieNotFound when
// no row matched.
func (r *MovieRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind("DELETE FROM movies WHERE id = ?"), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrMovieNotFound
	}
	return nil
}
