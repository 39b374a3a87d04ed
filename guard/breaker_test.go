package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-mailroom/core"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	breaker := NewBreaker("provider", Settings{
		FailMax:      5,
		ResetTimeout: time.Minute,
	})

	boom := errors.New("provider unavailable")
	calls := 0
	for i := 0; i < 5; i++ {
		err := breaker.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("call %d: expected provider error, got %v", i+1, err)
		}
	}
	if breaker.State() != StateOpen {
		t.Fatalf("expected open state after %d failures, got %s", calls, breaker.State())
	}

	err := breaker.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("dependency invoked while open: %d calls", calls)
	}
}

func TestBreakerAllowsSingleProbeAfterReset(t *testing.T) {
	breaker := NewBreaker("provider", Settings{
		FailMax:      2,
		ResetTimeout: 30 * time.Millisecond,
	})

	boom := errors.New("provider unavailable")
	for i := 0; i < 2; i++ {
		_ = breaker.Do(context.Background(), func(ctx context.Context) error {
			return boom
		})
	}
	if breaker.State() != StateOpen {
		t.Fatalf("expected open state, got %s", breaker.State())
	}

	time.Sleep(50 * time.Millisecond)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	go func() {
		_ = breaker.Do(context.Background(), func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// While the probe is in flight the breaker is half-open and a second
	// call must be rejected without running.
	err := breaker.Do(context.Background(), func(ctx context.Context) error {
		t.Error("second half-open call must not execute")
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen for second half-open call, got %v", err)
	}
	close(release)
}

func TestBreakerClosesAfterSuccessfulProbe(t *testing.T) {
	breaker := NewBreaker("provider", Settings{
		FailMax:      2,
		ResetTimeout: 20 * time.Millisecond,
	})

	boom := errors.New("provider unavailable")
	for i := 0; i < 2; i++ {
		_ = breaker.Do(context.Background(), func(ctx context.Context) error {
			return boom
		})
	}
	time.Sleep(40 * time.Millisecond)

	if err := breaker.Do(context.Background(), func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("probe should succeed: %v", err)
	}
	if breaker.State() != StateClosed {
		t.Fatalf("expected closed state after successful probe, got %s", breaker.State())
	}
}

func TestBreakerAppliesCallTimeout(t *testing.T) {
	breaker := NewBreaker("provider", Settings{
		FailMax:     5,
		CallTimeout: 10 * time.Millisecond,
	})

	err := breaker.Do(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRegistrySharesBreakersByName(t *testing.T) {
	registry := NewRegistry(core.DefaultConfig().Breakers, nil)

	first := registry.For(DependencyProvider)
	second := registry.For(DependencyProvider)
	if first != second {
		t.Fatal("expected the same breaker instance per dependency name")
	}
	if registry.For(DependencyStorage) == first {
		t.Fatal("expected distinct breakers per dependency")
	}

	states := registry.States()
	if states[DependencyProvider] != StateClosed {
		t.Fatalf("expected closed provider breaker, got %s", states[DependencyProvider])
	}
}
