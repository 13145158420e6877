package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/internal/sqlstore"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

// NewInMemoryBackend creates a backend on a private in-memory database. All access goes through a
// single connection.
func NewInMemoryBackend(opts ...option) *sqliteBackend {
	b := newSqliteBackend("file::memory:?_pragma=foreign_keys(1)&_pragma=journal_mode(memory)", defaultOptions(opts...))

	b.db.SetMaxOpenConns(1)

	if b.options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

// NewSqliteBackend opens the database file at path in WAL mode. Write transactions take the lock
// up front, concurrent workers queue on the busy timeout instead of failing.
func NewSqliteBackend(path string, opts ...option) *sqliteBackend {
	options := defaultOptions(opts...)

	b := newSqliteBackend(
		fmt.Sprintf("file:%v?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
			path, options.BusyTimeout.Milliseconds()),
		options)

	if b.options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

func newSqliteBackend(dsn string, options *options) *sqliteBackend {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	return &sqliteBackend{
		Store:   sqlstore.New(db, sqlstore.SQLite, options.Options),
		db:      db,
		options: options,
	}
}

type sqliteBackend struct {
	*sqlstore.Store

	db      *sql.DB
	options *options
}

var _ backend.Backend = (*sqliteBackend)(nil)

// Migrate applies the embedded migrations. The migration driver shares the backend's connection, so
// it is not closed afterwards.
func (sb *sqliteBackend) Migrate() error {
	dbi, err := sqlite.WithInstance(sb.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "sqlite", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}
