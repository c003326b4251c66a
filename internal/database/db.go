package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Options selects a driver and the connection parameters for it. When DSN
// is set it is used verbatim; otherwise a MySQL DSN is assembled from the
// individual fields.
type Options struct {
	Driver string
	DSN    string
	User   string
	Pass   string
	Host   string
	Port   string
	Name   string
}

// MySQLDSN builds a go-sql-driver DSN from discrete settings.
func MySQLDSN(user, pass, host, port, name string) string {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)
}

// Open connects to the configured store, verifies the connection and
// returns the pool together with the dialect used by the repositories.
func Open(opts Options) (*sql.DB, Dialect, error) {
	d, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, Dialect{}, err
	}
	dsn := opts.DSN
	if dsn == "" {
		if d.Driver != DriverMySQL {
			return nil, Dialect{}, fmt.Errorf("database: DSN is required for driver %q", d.Driver)
		}
		dsn = MySQLDSN(opts.User, opts.Pass, opts.Host, opts.Port, opts.Name)
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, Dialect{}, err
	}

	// Pool settings
	if d.Driver == DriverSQLite {
		// every sqlite connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Dialect{}, err
	}
	return db, d, nil
}
