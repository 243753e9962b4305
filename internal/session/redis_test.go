package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/mohammad-safakhou/tably/config"
	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/mohammad-safakhou/tably/internal/tools"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) config.RedisConfig {
	t.Helper()
	if os.Getenv("TABLY_INTEGRATION") == "" {
		t.Skip("set TABLY_INTEGRATION to run container-backed tests")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return config.RedisConfig{Host: host, Port: port.Port()}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	cfg := startRedis(t)
	store, err := NewRedisStore(cfg, time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	sess, err := store.Ensure(ctx, "")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := store.AppendTurns(ctx, sess.ID,
		core.Turn{Role: core.RoleUser, Content: "plan dinner"},
	); err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}
	if err := store.SaveState(ctx, sess.ID, &tools.State{
		Candidates: []tools.Restaurant{{Name: "Thai Palace"}},
	}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Turns) != 1 || got.Turns[0].Content != "plan dinner" {
		t.Errorf("turns = %+v", got.Turns)
	}
	if len(got.State.Candidates) != 1 {
		t.Errorf("state = %+v", got.State)
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	cfg := startRedis(t)
	store, err := NewRedisStore(cfg, time.Second)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	sess, err := store.Ensure(ctx, "")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session: %v", err)
	}
}
