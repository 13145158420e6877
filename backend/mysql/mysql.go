package mysql

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/internal/sqlstore"
	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

// DSN returns the connection string the backend uses. Affected rows are reported as matched rows, so
// a heartbeat within the same millisecond still counts as holding the lease.
func DSN(host string, port int, user, password, database string) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.User = user
	cfg.Passwd = password
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.InterpolateParams = true
	cfg.ClientFoundRows = true

	return cfg.FormatDSN()
}

func NewMysqlBackend(host string, port int, user, password, database string, opts ...option) *mysqlBackend {
	options := &options{
		Options:         backend.ApplyOptions(),
		ApplyMigrations: true,
		ConnMaxLifetime: 3 * time.Minute,
	}

	for _, opt := range opts {
		opt(options)
	}

	dsn := DSN(host, port, user, password, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		panic(err)
	}

	db.SetMaxOpenConns(options.MaxOpenConns)
	db.SetConnMaxLifetime(options.ConnMaxLifetime)

	b := &mysqlBackend{
		Store:   sqlstore.New(db, sqlstore.MySQL, options.Options),
		dsn:     dsn,
		db:      db,
		options: options,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

type mysqlBackend struct {
	*sqlstore.Store

	dsn     string
	db      *sql.DB
	options *options
}

var _ backend.Backend = (*mysqlBackend)(nil)

// Migrate applies any pending database migrations. Migrations run on a separate connection that
// allows multiple statements per query.
func (mb *mysqlBackend) Migrate() error {
	cfg, err := mysql.ParseDSN(mb.dsn)
	if err != nil {
		return fmt.Errorf("parsing dsn: %w", err)
	}

	cfg.MultiStatements = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("opening schema database: %w", err)
	}

	dbi, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "mysql", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		return fmt.Errorf("closing migration: %v %v", srcErr, dbErr)
	}

	return nil
}
