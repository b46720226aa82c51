//go:build integration

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedis_Integration_PutGet(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	r := NewRedis(client, time.Minute)
	ctx := context.Background()

	if _, err := r.Get(ctx, "bitcoin"); err != ErrCacheMiss {
		t.Errorf("Get() on empty store error = %v, want ErrCacheMiss", err)
	}

	value := json.RawMessage(`{"price":50000}`)
	if err := r.Put(ctx, "bitcoin", value); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	entry, err := r.Get(ctx, "bitcoin")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(entry.Value) != string(value) {
		t.Errorf("Get() value = %s, want %s", entry.Value, value)
	}
	if !r.IsFresh(ctx, "bitcoin") {
		t.Error("IsFresh() = false right after Put, want true")
	}
}

func TestRedis_Integration_StaleStaysReadable(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	// Tiny window so the entry goes stale immediately.
	r := NewRedis(client, time.Millisecond)
	ctx := context.Background()

	if err := r.Put(ctx, "ethereum", json.RawMessage(`{"price":3000}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if r.IsFresh(ctx, "ethereum") {
		t.Error("IsFresh() = true past the window, want false")
	}
	if _, err := r.Get(ctx, "ethereum"); err != nil {
		t.Errorf("Get() of stale entry error = %v, want readable", err)
	}
}

func TestRedis_Integration_ClearAll(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	r := NewRedis(client, time.Minute)
	ctx := context.Background()

	for _, name := range []string{"bitcoin", "ethereum", "indices"} {
		if err := r.Put(ctx, name, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Put(%q) error = %v", name, err)
		}
	}

	if err := r.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}

	for _, name := range []string{"bitcoin", "ethereum", "indices"} {
		if _, err := r.Get(ctx, name); err != ErrCacheMiss {
			t.Errorf("Get(%q) after ClearAll error = %v, want ErrCacheMiss", name, err)
		}
	}
	if _, ok := r.LastWrite(ctx); ok {
		t.Error("LastWrite() reported a write after ClearAll")
	}
}

func TestRedis_Integration_LastWrite(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	r := NewRedis(client, time.Minute)
	ctx := context.Background()

	if _, ok := r.LastWrite(ctx); ok {
		t.Error("LastWrite() reported a write on empty store")
	}

	before := time.Now()
	if err := r.Put(ctx, "bitcoin", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	last, ok := r.LastWrite(ctx)
	if !ok {
		t.Fatal("LastWrite() = not ok after a write")
	}
	if last.Before(before.Add(-time.Second)) {
		t.Errorf("LastWrite() = %v, want around %v", last, before)
	}
}
