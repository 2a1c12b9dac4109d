package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewRedisClient returns a client on an empty database. It uses TEST_REDIS_URL
// when set, starts a container when TEST_DOCKER is set, and skips the test
// otherwise.
func NewRedisClient(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	var opts *goredis.Options
	switch {
	case os.Getenv("TEST_REDIS_URL") != "":
		o, err := goredis.ParseURL(os.Getenv("TEST_REDIS_URL"))
		if err != nil {
			t.Fatalf("parsing TEST_REDIS_URL: %v", err)
		}
		opts = o
	case os.Getenv(DockerEnv) != "":
		opts = &goredis.Options{Addr: startRedisContainer(t)}
	default:
		t.Skip("TEST_REDIS_URL not set; skipping integration test")
	}

	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flushing test redis: %v", err)
	}
	return client
}

func startRedisContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v [%s]", err, time.Since(start))
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}
	t.Logf("redis container started [%s]", time.Since(start))
	return fmt.Sprintf("%s:%d", host, port.Int())
}
