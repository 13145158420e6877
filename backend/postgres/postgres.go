package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/internal/sqlstore"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

type postgresBackend struct {
	*sqlstore.Store

	db      *sql.DB
	options *options

	// ownsConnection is false when the caller passed in the pool
	ownsConnection bool

	listener *notificationListener
}

var _ backend.Backend = (*postgresBackend)(nil)

// NewPostgresBackend connects to the given database. Notifications sent by other processes sharing
// the database wake up local waiters, unless disabled with WithNotifications(false).
func NewPostgresBackend(host string, port int, user, password, database string, opts ...option) *postgresBackend {
	options := &options{
		Options:                backend.ApplyOptions(),
		ApplyMigrations:        true,
		SSLMode:                "disable",
		ListenForNotifications: true,
	}

	for _, opt := range opts {
		opt(options)
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, database, options.SSLMode)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		panic(err)
	}

	b := newPostgresBackend(db, options, true)

	if options.ListenForNotifications {
		b.listener = newNotificationListener(dsn, b.Hub(), options.Logger)
		if err := b.listener.Start(); err != nil {
			panic(err)
		}
	}

	return b
}

// NewPostgresBackendWithDB uses an existing connection pool, which Close leaves open. Migrations are
// only applied with WithApplyMigrations(true). Notifications of other processes are not received,
// waits across processes rely on polling.
func NewPostgresBackendWithDB(db *sql.DB, opts ...option) *postgresBackend {
	options := &options{
		Options: backend.ApplyOptions(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return newPostgresBackend(db, options, false)
}

func newPostgresBackend(db *sql.DB, options *options, ownsConnection bool) *postgresBackend {
	if options.MaxOpenConns > 0 {
		db.SetMaxOpenConns(options.MaxOpenConns)
	}

	b := &postgresBackend{
		Store:          sqlstore.New(db, sqlstore.Postgres, options.Options),
		db:             db,
		options:        options,
		ownsConnection: ownsConnection,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

func (pb *postgresBackend) Close() error {
	if pb.listener != nil {
		if err := pb.listener.Close(); err != nil {
			return err
		}
	}

	if !pb.ownsConnection {
		return nil
	}

	return pb.db.Close()
}

// Migrate applies pending migrations on a connection taken from the pool. Concurrent migrations
// from several processes are serialized by an advisory lock.
func (pb *postgresBackend) Migrate() error {
	ctx := context.Background()

	conn, err := pb.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}

	dbi, err := postgres.WithConnection(ctx, conn, &postgres.Config{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		dbi.Close()
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "postgres", dbi)
	if err != nil {
		dbi.Close()
		return fmt.Errorf("creating migration: %w", err)
	}

	// Closing the migration returns the connection to the pool
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}
