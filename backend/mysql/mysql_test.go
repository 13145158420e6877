package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/test"
	"github.com/go-durable/durable/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const testUser = "root"
const testPassword = "root"

type testDatabase struct {
	host string
	port int
}

func startMySQL(t *testing.T) *testDatabase {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mysql:8.1",
			ExposedPorts: []string{"3306/tcp"},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": testPassword,
			},
			WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	return &testDatabase{host: host, port: port.Int()}
}

func (d *testDatabase) admin() *sql.DB {
	db, err := sql.Open("mysql", DSN(d.host, d.port, testUser, testPassword, ""))
	if err != nil {
		panic(err)
	}

	return db
}

// Creating and dropping databases is inefficient, but gives complete isolation between tests.
func (d *testDatabase) setup(dbName *string) func() backend.Backend {
	return func() backend.Backend {
		db := d.admin()
		defer db.Close()

		*dbName = "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		if _, err := db.Exec("CREATE DATABASE " + *dbName); err != nil {
			panic(fmt.Errorf("creating database: %w", err))
		}

		return NewMysqlBackend(d.host, d.port, testUser, testPassword, *dbName)
	}
}

func (d *testDatabase) teardown(dbName *string) func(b backend.Backend) {
	return func(b backend.Backend) {
		if err := b.Close(); err != nil {
			panic(err)
		}

		db := d.admin()
		defer db.Close()

		if _, err := db.Exec("DROP DATABASE IF EXISTS " + *dbName); err != nil {
			panic(fmt.Errorf("dropping database: %w", err))
		}
	}
}

func Test_MysqlBackend(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	d := startMySQL(t)

	var dbName string
	test.BackendTest(t, d.setup(&dbName), d.teardown(&dbName))
}

func Test_EndToEndMysqlBackend(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	d := startMySQL(t)

	var dbName string
	test.EndToEndBackendTest(t, d.setup(&dbName), d.teardown(&dbName))
}

func Test_MysqlBackend_HeartbeatWithinSameMillisecond(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	ctx := context.Background()
	d := startMySQL(t)

	var dbName string
	b := d.setup(&dbName)()
	defer d.teardown(&dbName)(b)

	instance := core.NewWorkflowInstance(uuid.NewString(), "wf", nil)
	require.NoError(t, b.CreateWorkflowInstance(ctx, instance))

	claimed, err := b.ClaimWorkflowInstance(ctx, instance.ID, "executor-1", time.Time{})
	require.NoError(t, err)
	require.NotNil(t, claimed)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.HeartbeatWorkflowInstance(ctx, instance.ID, "executor-1"))
	}
}

func Test_DSN(t *testing.T) {
	dsn := DSN("localhost", 3306, "root", "secret", "durable")

	require.Contains(t, dsn, "root:secret@tcp(localhost:3306)/durable")
	require.Contains(t, dsn, "parseTime=true")
	require.Contains(t, dsn, "clientFoundRows=true")
	require.Contains(t, dsn, "interpolateParams=true")
}
