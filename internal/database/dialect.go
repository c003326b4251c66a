package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported driver names, as registered with database/sql.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// pgUniqueViolation is SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

// Dialect papers over the few places where the supported SQL engines
// disagree: placeholder syntax, id retrieval after INSERT and the shape of
// a unique-constraint violation.
type Dialect struct {
	Driver string
}

// DialectFor returns the dialect for a driver name. An empty name selects MySQL.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMySQL:
		return Dialect{Driver: DriverMySQL}, nil
	case DriverPostgres, "postgresql", "pq":
		return Dialect{Driver: DriverPostgres}, nil
	case DriverSQLite, "sqlite":
		return Dialect{Driver: DriverSQLite}, nil
	}
	return Dialect{}, fmt.Errorf("database: unsupported driver %q", driver)
}

// Rebind rewrites '?' placeholders into the engine's native form.
func (d Dialect) Rebind(q string) string {
	if d.Driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertID runs an INSERT written with '?' placeholders and returns the
// generated primary key.
func (d Dialect) InsertID(ctx context.Context, ex Execer, q string, args ...any) (int64, error) {
	if d.Driver == DriverPostgres {
		var id int64
		if err := ex.QueryRowContext(ctx, d.Rebind(q)+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// IsUniqueViolation reports whether err is a unique-constraint violation
// raised by the store.
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDuplicateEntry
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == pgUniqueViolation
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
