package detections_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/detections/detectionstest"
)

func newPool(t *testing.T, backend *detectionstest.Backend, size int, timeout time.Duration) *detections.SessionPool {
	t.Helper()
	graph, err := backend.Import(detectionstest.GraphMagic, detections.Bindings{})
	if err != nil {
		t.Fatal(err)
	}
	pool, err := detections.NewSessionPool(graph, size, timeout)
	if err != nil {
		t.Fatalf("NewSessionPool: %v", err)
	}
	t.Cleanup(pool.Destroy)
	return pool
}

func TestSessionPool_AcquireTimeout(t *testing.T) {
	pool := newPool(t, detectionstest.Fixed(nil, nil), 1, 20*time.Millisecond)

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, detections.ErrPoolTimeout) {
		t.Fatalf("expected ErrPoolTimeout, got %v", err)
	}
	pool.Release(held)

	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	stats := pool.Stats()
	if stats.AcquireFailures != 1 || stats.TotalAcquired != 2 || stats.InUse != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSessionPool_ContextCancelled(t *testing.T) {
	pool := newPool(t, detectionstest.Fixed(nil, nil), 1, time.Minute)
	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSessionPool_ReleaseAfterDestroy(t *testing.T) {
	backend := detectionstest.Fixed(nil, nil)
	pool := newPool(t, backend, 2, time.Second)

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pool.Destroy()
	if backend.Destroyed() != 1 {
		t.Fatalf("idle sessions destroyed = %d, want 1", backend.Destroyed())
	}

	pool.Release(held)
	if backend.Destroyed() != 2 {
		t.Fatalf("released session not destroyed, count %d", backend.Destroyed())
	}
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, detections.ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestSessionPool_InitFailure(t *testing.T) {
	backend := detectionstest.Fixed(nil, nil)
	graph, err := backend.Import(detectionstest.GraphMagic, detections.Bindings{})
	if err != nil {
		t.Fatal(err)
	}
	backend.ExecutorErr = errors.New("bind failed")
	if _, err := detections.NewSessionPool(graph, 3, time.Second); err == nil {
		t.Fatalf("expected error")
	}
}
