package workerpool

import (
	"context"
	"testing"
	"time"
)

func TestPoolExecutesSubmittedJobs(t *testing.T) {
	t.Parallel()

	pool, err := New(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)

	results := make([]<-chan Result, 0, 5)
	for i := 0; i < 5; i++ {
		i := i
		results = append(results, pool.Submit(ctx, func(context.Context) (any, error) {
			return i * i, nil
		}))
	}

	for i, ch := range results {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}

			if res.Value.(int) != i*i {
				t.Fatalf("expected %d, got %v", i*i, res.Value)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for result")
		}
	}
}

func TestPoolRejectsAfterCancel(t *testing.T) {
	t.Parallel()

	pool, err := New(1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	cancel()

	time.Sleep(10 * time.Millisecond)

	ch := pool.Submit(ctx, func(context.Context) (any, error) {
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Err != ErrPoolClosed {
			t.Fatalf("expected ErrPoolClosed, got %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestNewRejectsNonPositiveWorkers(t *testing.T) {
	t.Parallel()

	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero workers")
	}
}
