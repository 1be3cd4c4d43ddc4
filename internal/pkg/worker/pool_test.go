package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"nexaauth.io/provisioner/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestMain(m *testing.M) {
	// ants starts its package-level default pool at init.
	goleak.VerifyTestMain(m, goleak.IgnoreCurrent())
}

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := NewPool("test", size)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() { p.Shutdown(5 * time.Second) })
	return p
}

func TestPool_Submit(t *testing.T) {
	p := newTestPool(t, 4)

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)

	err := p.Submit(context.Background(), func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	wg.Wait()
	if !executed.Load() {
		t.Error("Task was not executed")
	}
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	p := newTestPool(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Submit(ctx, func(ctx context.Context) {
		t.Error("Task should not execute with cancelled context")
	})
	if err != context.Canceled {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
}

func TestPool_Submit_AfterShutdown(t *testing.T) {
	p, err := NewPool("closed", 1)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	p.Shutdown(time.Second)

	err = p.Submit(context.Background(), func(context.Context) {})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() error = %v, want ErrPoolClosed", err)
	}
}

func TestPool_Stats(t *testing.T) {
	p := newTestPool(t, 7)

	stats := p.Stats()
	if stats.Cap != 7 {
		t.Errorf("Stats().Cap = %d, want 7", stats.Cap)
	}
	if p.Name() != "test" {
		t.Errorf("Name() = %q, want test", p.Name())
	}
}

func TestBatch_CollectsErrorsInOrder(t *testing.T) {
	tests := []struct {
		name string
		pool func(t *testing.T) *Pool
	}{
		{"pooled", func(t *testing.T) *Pool { return newTestPool(t, 2) }},
		{"inline", func(*testing.T) *Pool { return nil }},
	}

	boom := errors.New("boom")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.pool(t).NewBatch(context.Background())

			var ran atomic.Int32
			for i := 0; i < 3; i++ {
				i := i
				b.Go(func(context.Context) error {
					ran.Add(1)
					if i == 1 {
						return boom
					}
					return nil
				})
			}

			errs := b.Wait()
			if len(errs) != 3 {
				t.Fatalf("len(Wait()) = %d, want 3", len(errs))
			}
			if errs[0] != nil || errs[2] != nil {
				t.Errorf("Wait() = %v, want nil at 0 and 2", errs)
			}
			if !errors.Is(errs[1], boom) {
				t.Errorf("Wait()[1] = %v, want boom", errs[1])
			}
			if ran.Load() != 3 {
				t.Errorf("ran = %d, want 3", ran.Load())
			}
		})
	}
}

func TestBatch_CancelledContextReportsError(t *testing.T) {
	p := newTestPool(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := p.NewBatch(ctx)
	b.Go(func(context.Context) error {
		t.Error("task should not run after cancellation")
		return nil
	})

	errs := b.Wait()
	if len(errs) != 1 || !errors.Is(errs[0], context.Canceled) {
		t.Errorf("Wait() = %v, want [context.Canceled]", errs)
	}
}

func TestBatch_RunsConcurrently(t *testing.T) {
	p := newTestPool(t, 3)
	b := p.NewBatch(context.Background())

	// Each task waits for all three to start; a serial runner would deadlock.
	var started sync.WaitGroup
	started.Add(3)
	for i := 0; i < 3; i++ {
		b.Go(func(ctx context.Context) error {
			started.Done()
			done := make(chan struct{})
			go func() { started.Wait(); close(done) }() //nolint:naked-goroutine // test helper
			select {
			case <-done:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("tasks did not overlap")
			}
		})
	}

	for i, err := range b.Wait() {
		if err != nil {
			t.Errorf("task %d: %v", i, err)
		}
	}
}
