//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alialinx/mini-gateway/internal/gateway/store"
	"github.com/alialinx/mini-gateway/internal/gateway/store/drivers/redis"
	"github.com/alialinx/mini-gateway/internal/gateway/store/storetest"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisStore(t *testing.T) {
	url := startRedis(t)

	var n int
	storetest.Run(t, func(t *testing.T) store.Sessions {
		n++
		st, err := redis.Open(context.Background(), url, redis.WithPrefix(fmt.Sprintf("test%d:{sessions}:", n)))
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}
