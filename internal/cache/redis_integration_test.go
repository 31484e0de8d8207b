//go:build integration

package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedis_Integration(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	client, err := Dial(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	c := NewRedis(client, time.Minute)
	type view struct {
		XP    int `json:"xp"`
		Level int `json:"level"`
	}

	var got view
	if err := c.Get(ctx, ProfileKey("s1"), &got); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get() on empty error = %v; want ErrMiss", err)
	}
	if err := c.Set(ctx, ProfileKey("s1"), view{XP: 600, Level: 2}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Get(ctx, ProfileKey("s1"), &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.XP != 600 || got.Level != 2 {
		t.Errorf("Get() = %+v", got)
	}

	ttl, err := client.TTL(ctx, namespace+ProfileKey("s1")).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v; want within a minute", ttl, err)
	}

	Invalidator{Cache: c}.InvalidateProfile(ctx, "s1", "t1")
	if err := c.Get(ctx, ProfileKey("s1"), &got); !errors.Is(err, ErrMiss) {
		t.Errorf("Get() after invalidate error = %v; want ErrMiss", err)
	}
}
