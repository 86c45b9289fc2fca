package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errDeliveryFailed = errors.New("delivery failed")

// testBreaker builds a breaker with a manually advanced clock.
func testBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New(cfg)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	b.now = func() time.Time { return *clock }
	b.stateChanged = now
	return b, clock
}

func fail(b *Breaker) error {
	return b.Call(func() error { return errDeliveryFailed })
}

func succeed(b *Breaker) error {
	return b.Call(func() error { return nil })
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	b, _ := testBreaker(Config{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		fail(b)
		if b.CurrentState() != StateClosed {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}

	fail(b)
	if b.CurrentState() != StateOpen {
		t.Fatal("breaker should open at the failure threshold")
	}
}

func TestOpenRejectsWithoutCallingFn(t *testing.T) {
	b, _ := testBreaker(Config{FailureThreshold: 1, CoolDown: time.Minute})
	fail(b)

	called := false
	err := b.Call(func() error {
		called = true
		return nil
	})

	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while the breaker is open")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(Config{FailureThreshold: 3})

	fail(b)
	fail(b)
	succeed(b)
	fail(b)
	fail(b)

	if b.CurrentState() != StateClosed {
		t.Error("success should reset the consecutive failure count")
	}
}

func TestHalfOpenAfterCoolDown(t *testing.T) {
	b, clock := testBreaker(Config{FailureThreshold: 1, CoolDown: 30 * time.Second})
	fail(b)

	// Still inside the cool-down.
	*clock = clock.Add(29 * time.Second)
	if err := succeed(b); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen inside cool-down, got %v", err)
	}

	// Past the cool-down the breaker probes.
	*clock = clock.Add(2 * time.Second)
	if err := succeed(b); err != nil {
		t.Fatalf("probe after cool-down should run, got %v", err)
	}
}

func TestClosesAfterSuccessThreshold(t *testing.T) {
	b, clock := testBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, CoolDown: time.Second})
	fail(b)
	*clock = clock.Add(2 * time.Second)

	succeed(b)
	if b.CurrentState() != StateHalfOpen {
		t.Fatal("breaker should stay half-open until the success threshold")
	}
	succeed(b)
	if b.CurrentState() != StateClosed {
		t.Fatal("breaker should close after the success threshold")
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clock := testBreaker(Config{FailureThreshold: 1, CoolDown: time.Second})
	fail(b)
	*clock = clock.Add(2 * time.Second)

	fail(b)
	if b.CurrentState() != StateOpen {
		t.Fatal("failed probe should reopen the breaker")
	}
}

func TestDisabledBreakerNeverOpens(t *testing.T) {
	b, _ := testBreaker(Config{FailureThreshold: 0})

	for i := 0; i < 20; i++ {
		if err := fail(b); !errors.Is(err, errDeliveryFailed) {
			t.Fatalf("disabled breaker must pass errors through, got %v", err)
		}
	}
	if b.CurrentState() != StateClosed {
		t.Error("disabled breaker must stay closed")
	}
}

func TestCallPropagatesFnError(t *testing.T) {
	b, _ := testBreaker(Config{FailureThreshold: 10})

	if err := fail(b); !errors.Is(err, errDeliveryFailed) {
		t.Errorf("Call should return fn's error, got %v", err)
	}
	if err := succeed(b); err != nil {
		t.Errorf("Call should return nil on success, got %v", err)
	}
}

func TestReset(t *testing.T) {
	b, _ := testBreaker(Config{FailureThreshold: 1, CoolDown: time.Hour})
	fail(b)
	if b.CurrentState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	b.Reset()
	if b.CurrentState() != StateClosed {
		t.Fatal("Reset should close the breaker")
	}
	if err := succeed(b); err != nil {
		t.Errorf("delivery after Reset should run, got %v", err)
	}
}

func TestHalfOpenLimitsConcurrentProbes(t *testing.T) {
	b, clock := testBreaker(Config{FailureThreshold: 1, CoolDown: time.Second, HalfOpenMaxCalls: 1})
	fail(b)
	*clock = clock.Add(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(func() error {
			<-release
			return nil
		})
	}()

	// Wait for the probe to claim its slot.
	deadline := time.Now().Add(2 * time.Second)
	for b.CurrentState() != StateHalfOpen {
		if time.Now().After(deadline) {
			t.Fatal("breaker never went half-open")
		}
		time.Sleep(time.Millisecond)
	}

	if err := succeed(b); !errors.Is(err, ErrOpen) {
		t.Errorf("second concurrent probe should be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("probe error = %v", err)
	}
}
