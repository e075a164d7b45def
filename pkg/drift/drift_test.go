package drift

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMonitorTrainsThenStabilizes(t *testing.T) {
	t.Parallel()

	m := NewMonitor(10, zap.NewNop())
	rng := rand.New(rand.NewSource(1))

	var lastStatus Status

	for i := 0; i < 20; i++ {
		d := 400 + rng.NormFloat64()*10
		status, err := m.Observe(d)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if i < 10 && status != Training {
			t.Fatalf("expected TRAINING before the window fills, got %v at %d", status, i)
		}

		lastStatus = status
	}

	if lastStatus != Stable {
		t.Fatalf("expected STABLE after a settled regime, got %v", lastStatus)
	}
}

func TestMonitorDetectsShift(t *testing.T) {
	t.Parallel()

	m := NewMonitor(10, zap.NewNop())
	rng := rand.New(rand.NewSource(2))

	for i := 0; i < 20; i++ {
		_, err := m.Observe(400 + rng.NormFloat64()*10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var shifted bool

	for i := 0; i < 5; i++ {
		status, err := m.Observe(600 + rng.NormFloat64()*10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if status == Shifted {
			shifted = true

			break
		}
	}

	if !shifted {
		t.Fatal("expected SHIFTED to be detected within the first few samples of the new regime")
	}
}

func TestMonitorWatchPublishesEventsFromFeed(t *testing.T) {
	t.Parallel()

	m := NewMonitor(3, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := m.Watch(ctx)

	go func() {
		for _, d := range []float64{1, 1.1, 0.9, 1.05} {
			m.Feed(ctx, d)
		}
	}()

	for i := 0; i < 4; i++ {
		select {
		case ev := <-events:
			if ev.Err != nil {
				t.Fatalf("unexpected event error: %v", ev.Err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for drift event")
		}
	}
}

func TestMonitorWatchRejectsSecondCall(t *testing.T) {
	t.Parallel()

	m := NewMonitor(3, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = m.Watch(ctx)
	second := m.Watch(ctx)

	select {
	case ev := <-second:
		if ev.Err != ErrMonitorAlreadyWatching {
			t.Fatalf("expected ErrMonitorAlreadyWatching, got %v", ev.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rejection event")
	}
}
