package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/recordflow/recordflow/backend"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// NewInMemoryStore returns a store backed by an in-memory database, used in
// tests and samples.
func NewInMemoryStore(opts ...backend.BackendOption) *Store {
	s := newStore("file::memory:", opts...)

	// A single connection, otherwise connections see different databases.
	s.db.SetMaxOpenConns(1)

	return s
}

// NewStore returns a store backed by the database file at path.
func NewStore(path string, opts ...backend.BackendOption) *Store {
	return newStore(fmt.Sprintf("file:%v", path), opts...)
}

func newStore(dsn string, opts ...backend.BackendOption) *Store {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	if _, err := db.Exec(schema); err != nil {
		panic(fmt.Errorf("initializing database: %w", err))
	}

	return &Store{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}
}

type Store struct {
	db      *sql.DB
	options backend.Options
}

var _ backend.Store = (*Store)(nil)

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.options.Clock.Now().UTC()
}

// Times are stored as UTC RFC3339 text so range filters compare
// lexicographically.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
