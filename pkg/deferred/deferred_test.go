package deferred

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunInlineWhenBlockingAllowed(t *testing.T) {
	d := New()
	defer d.Close()

	ran := false
	ctx := WithBlocking(context.Background())
	if err := d.Run(ctx, "inline", func(ctx context.Context) {
		ran = true
		if !CanBlock(ctx) {
			t.Error("inline callback got a non-blocking context")
		}
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !ran {
		t.Error("callback did not run before Run returned")
	}
}

func TestRunHandsOffToWorker(t *testing.T) {
	d := New()
	defer d.Close()

	caller := make(chan struct{})
	done := make(chan bool, 1)
	if err := d.Run(context.Background(), "handoff", func(ctx context.Context) {
		<-caller
		done <- CanBlock(ctx)
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Run returned while the callback is still blocked.
	close(caller)

	select {
	case blocking := <-done:
		if !blocking {
			t.Error("worker context is not blocking-capable")
		}
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

func TestRunPreservesOrder(t *testing.T) {
	d := New()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		if err := d.Run(context.Background(), "ordered", func(context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Run(%d) error = %v", i, err)
		}
	}
	d.Close()

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
	if len(order) != 10 {
		t.Errorf("ran %d callbacks, want 10", len(order))
	}
}

func TestRunReportsFullQueue(t *testing.T) {
	d := New(WithCapacity(1))
	release := make(chan struct{})
	started := make(chan struct{})

	// Occupy the worker, then fill the single slot.
	_ = d.Run(context.Background(), "block", func(context.Context) {
		close(started)
		<-release
	})
	<-started
	if err := d.Run(context.Background(), "fill", func(context.Context) {}); err != nil {
		t.Fatalf("Run(fill) error = %v", err)
	}

	ran := false
	err := d.Run(context.Background(), "overflow", func(context.Context) { ran = true })
	if !errors.Is(err, ErrInsufficientResources) {
		t.Errorf("Run() error = %v, want %v", err, ErrInsufficientResources)
	}

	close(release)
	d.Close()
	if ran {
		t.Error("rejected callback ran")
	}
}

func TestRunAfterClose(t *testing.T) {
	d := New()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := d.Run(context.Background(), "late", func(context.Context) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() error = %v, want %v", err, ErrClosed)
	}
}
