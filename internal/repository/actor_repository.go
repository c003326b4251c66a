package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/casting-agency/internal/database"
	"github.com/iliyamo/casting-agency/internal/model"
)

// ActorRepo encapsulates all database queries related to actors.
type ActorRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewActorRepo constructs an ActorRepo with the provided DB handle and the
// dialect it was opened with.
func NewActorRepo(db *sql.DB, d database.Dialect) *ActorRepo {
	return &ActorRepo{db: db, dialect: d}
}

// List returns every actor ordered by id.
func (r *ActorRepo) List(ctx context.Context) ([]model.Actor, error) {
	const q = "SELECT id, name, age, gender FROM actors ORDER BY id"
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Actor{}
	for rows.Next() {
		var a model.Actor
		if err := rows.Scan(&a.ID, &a.Name, &a.Age, &a.Gender); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID fetches an actor by id, or ErrActorNotFound.
func (r *ActorRepo) GetByID(ctx context.Context, id int64) (*model.Actor, error) {
	const q = "SELECT id, name, age, gender FROM actors WHERE id = ?"
	var a model.Actor
	if err := r.db.QueryRowContext(ctx, r.dialect.Rebind(q), id).Scan(&a.ID, &a.Name, &a.Age, &a.Gender); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrActorNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Create inserts a new actor and populates its ID.
func (r *ActorRepo) Create(ctx context.Context, a *model.Actor) error {
	const q = "INSERT INTO actors (name, age, gender) VALUES (?, ?, ?)"
	id, err := r.dialect.InsertID(ctx, r.db, q, a.Name, a.Age, a.Gender)
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// Update applies the non-nil fields of patch and returns the stored actor.
func (r *ActorRepo) Update(ctx context.Context, id int64, p model.ActorPatch) (*model.Actor, error) {
	var (
		sets []string
		args []any
	)
	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Age != nil {
		sets = append(sets, "age = ?")
		args = append(args, *p.Age)
	}
	if p.Gender != nil {
		sets = append(sets, "gender = ?")
		args = append(args, *p.Gender)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil || len(sets) == 0 {
		return current, err
	}

	q := "UPDATE actors SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(q), args...); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Delete removes the actor permanently, or returns ErrActorNotFound.
func (r *ActorRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind("DELETE FROM actors WHERE id = ?"), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrActorNotFound
	}
	return nil
}
