//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage/storagetest"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "guild",
				"POSTGRES_PASSWORD": "guild",
				"POSTGRES_DB":       "guild",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get port: %v", err)
	}
	return fmt.Sprintf("postgres://guild:guild@%s:%s/guild?sslmode=disable", host, port.Port())
}

func TestStore_Integration(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	pool, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	storagetest.Run(t, func(t *testing.T) storage.Store {
		if _, err := pool.Exec(ctx, `TRUNCATE teachers, classes, students, catalogs, progress`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return NewStore(pool)
	})
}

func TestNotifier_Integration(t *testing.T) {
	dsn := startPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(pool.Close)

	n := NewNotifier(pool, dsn, nil)
	var (
		mu  sync.Mutex
		got []string
	)
	received := make(chan struct{}, 1)
	listenCtx, stop := context.WithCancel(ctx)
	defer stop()
	go n.Listen(listenCtx, func(p []byte) {
		mu.Lock()
		got = append(got, string(p))
		mu.Unlock()
		received <- struct{}{}
	})

	// Give the listener a moment to subscribe.
	time.Sleep(500 * time.Millisecond)
	if err := n.Notify(ctx, []byte(`{"type":"progress.updated"}`)); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	select {
	case <-received:
	case <-ctx.Done():
		t.Fatal("timed out waiting for notification")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != `{"type":"progress.updated"}` {
		t.Errorf("got = %v", got)
	}
}
