package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names a supported SQL driver.
type Dialect string

const (
	Postgres Dialect = "pgx"
	SQLite   Dialect = "sqlite3"
)

// DB wraps sql.DB with the dialect it was opened with.
type DB struct {
	Client  *sql.DB
	Dialect Dialect
}

// NewDB opens a connection pool and pings it with a short timeout. Postgres
// goes through pgx; SQLite is used for local runs and repository tests.
func NewDB(dialect Dialect, connString string) (*DB, error) {
	if dialect == "" {
		dialect = Postgres
	}
	if dialect != Postgres && dialect != SQLite {
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
	db, err := sql.Open(string(dialect), connString)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// an in-memory database exists per connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return &DB{Client: db, Dialect: dialect}, db.PingContext(ctx)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
