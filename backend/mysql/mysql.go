package mysql

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/recordflow/recordflow/backend"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewStore connects, runs pending schema migrations and returns the store.
func NewStore(host string, port int, user, password, database string, opts ...backend.BackendOption) *Store {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&interpolateParams=true", user, password, host, port, database)

	db, err := sql.Open("mysql", dsn+"&multiStatements=true")
	if err != nil {
		panic(err)
	}

	if err := migrateDB(db, database); err != nil {
		panic(fmt.Errorf("initializing database: %w", err))
	}

	return &Store{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}
}

func migrateDB(db *sql.DB, database string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{DatabaseName: database})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "mysql", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
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
