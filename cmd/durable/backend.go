package main

import (
	"database/sql"
	"fmt"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/mysql"
	"github.com/go-durable/durable/backend/postgres"
	"github.com/go-durable/durable/backend/redis"
	"github.com/go-durable/durable/backend/sqlite"
	"github.com/go-durable/durable/internal/sqlstore"
	goredis "github.com/redis/go-redis/v9"
)

type migrator interface {
	Migrate() error
}

type sqlBackend interface {
	backend.Backend

	DB() *sql.DB
}

// openBackend opens the configured backend. The SQL backends panic on connection errors, those are
// returned as errors.
func openBackend(cfg *config, applyMigrations bool, opts ...backend.BackendOption) (b backend.Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("opening %s backend: %v", cfg.Backend, r)
		}
	}()

	switch cfg.Backend {
	case "sqlite":
		return sqlite.NewSqliteBackend(cfg.SQLite.Path,
			sqlite.WithApplyMigrations(applyMigrations),
			sqlite.WithBackendOptions(opts...)), nil

	case "postgres":
		p := cfg.Postgres
		return postgres.NewPostgresBackend(p.Host, p.Port, p.User, p.Password, p.Database,
			postgres.WithSSLMode(p.SSLMode),
			postgres.WithApplyMigrations(applyMigrations),
			postgres.WithBackendOptions(opts...)), nil

	case "mysql":
		m := cfg.MySQL
		return mysql.NewMysqlBackend(m.Host, m.Port, m.User, m.Password, m.Database,
			mysql.WithApplyMigrations(applyMigrations),
			mysql.WithBackendOptions(opts...)), nil

	case "redis":
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		rb, err := redis.NewRedisBackend(client,
			redis.WithKeyPrefix(cfg.Redis.KeyPrefix),
			redis.WithBackendOptions(opts...))
		if err != nil {
			return nil, err
		}

		return rb, nil
	}

	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// dialect returns the SQL dialect of the backend's database, or nil for backends without one
func dialect(name string) *sqlstore.Dialect {
	switch name {
	case "sqlite":
		return sqlstore.SQLite
	case "postgres":
		return sqlstore.Postgres
	case "mysql":
		return sqlstore.MySQL
	}

	return nil
}
