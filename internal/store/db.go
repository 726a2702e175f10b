package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults and ensures the
// documents table exists.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return &DB{Client: db}, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return &DB{Client: db}, err
	}
	return &DB{Client: db}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection  TEXT NOT NULL,
	parent_path TEXT NOT NULL DEFAULT '',
	key         TEXT NOT NULL,
	doc         JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, parent_path, key)
);
CREATE INDEX IF NOT EXISTS documents_doc_idx ON documents USING GIN (doc);
`
