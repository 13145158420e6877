package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/test"
	"github.com/go-durable/durable/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
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

	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%d", host, port.Int())
}

func getClient(address string) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{address},
		DB:    0,
	})
}

// Every backend gets its own key prefix, so tests never see each other's data
func getCreateBackend(address string, opts ...RedisBackendOption) func() backend.Backend {
	return func() backend.Backend {
		options := append([]RedisBackendOption{
			WithKeyPrefix(uuid.NewString() + ":"),
			WithBackendOptions(backend.WithPollingInterval(100 * time.Millisecond)),
		}, opts...)

		b, err := NewRedisBackend(getClient(address), options...)
		if err != nil {
			panic(err)
		}

		return b
	}
}

func closeBackend(b backend.Backend) {
	if err := b.Close(); err != nil {
		panic(err)
	}
}

func Test_RedisBackend(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	address := startRedis(t)

	t.Run("Backend", func(t *testing.T) {
		test.BackendTest(t, getCreateBackend(address), closeBackend)
	})

	t.Run("EndToEnd", func(t *testing.T) {
		test.EndToEndBackendTest(t, getCreateBackend(address), closeBackend)
	})

	t.Run("NotificationsAcrossBackends", func(t *testing.T) {
		prefix := WithKeyPrefix(uuid.NewString() + ":")

		a, err := NewRedisBackend(getClient(address), prefix)
		require.NoError(t, err)
		defer a.Close()

		b, err := NewRedisBackend(getClient(address), prefix)
		require.NoError(t, err)
		defer b.Close()

		ch, unsubscribe := b.Subscribe(backend.PendingInstancesKey)
		defer unsubscribe()

		ctx := context.Background()
		require.NoError(t, a.CreateWorkflowInstance(ctx, core.NewWorkflowInstance(uuid.NewString(), "w", nil)))

		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			require.FailNow(t, "no notification received")
		}
	})

	t.Run("TransactionStepsNotSupported", func(t *testing.T) {
		b := getCreateBackend(address)()
		defer closeBackend(b)

		require.False(t, b.FeatureSupported(backend.FeatureTransactions))
		require.True(t, b.FeatureSupported(backend.FeatureDistributedNotify))

		_, err := b.RunTransactionStep(context.Background(), &core.StepRecord{}, nil)
		require.ErrorAs(t, err, &backend.ErrNotSupported{})
	})

	t.Run("AutoExpiration", func(t *testing.T) {
		b := getCreateBackend(address, WithAutoExpiration(time.Second))().(*redisBackend)
		defer closeBackend(b)

		ctx := context.Background()
		wfi := core.NewWorkflowInstance(uuid.NewString(), "w", nil)
		require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))
		require.NoError(t, b.Send(ctx, &core.Message{DestinationID: wfi.ID, Topic: "t", Payload: []byte(`1`)}, nil))

		_, err := b.ClaimWorkflowInstance(ctx, wfi.ID, "a", time.Time{})
		require.NoError(t, err)
		require.NoError(t, b.CompleteWorkflowInstance(ctx, wfi.ID, "a", core.WorkflowStatusSuccess, nil, nil))

		ttl, err := b.rdb.TTL(ctx, b.keys.instance(wfi.ID)).Result()
		require.NoError(t, err)
		require.Greater(t, ttl, time.Duration(0))

		ttl, err = b.rdb.TTL(ctx, b.keys.mailbox(wfi.ID, "t")).Result()
		require.NoError(t, err)
		require.Greater(t, ttl, time.Duration(0))

		require.Eventually(t, func() bool {
			_, err := b.GetWorkflowInstance(ctx, wfi.ID)
			return err == backend.ErrInstanceNotFound
		}, 5*time.Second, 100*time.Millisecond)
	})
}
