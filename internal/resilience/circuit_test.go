package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func busyCall(_ context.Context) error {
	return Busy(errors.New("upstream busy"), 503)
}

func okCall(_ context.Context) error {
	return nil
}

func TestCircuit_OpensAfterThreshold(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.Execute(ctx, busyCall); err == nil {
			t.Fatal("expected busy error")
		}
	}
	if got := c.State(); got != CircuitOpen {
		t.Fatalf("expected open, got %s", got)
	}

	err := c.Execute(ctx, okCall)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuit_HardFailuresDoNotCount(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = c.Execute(ctx, func(_ context.Context) error {
			return errors.New("bad payload")
		})
	}
	if got := c.State(); got != CircuitClosed {
		t.Errorf("hard failures must not open the circuit, got %s", got)
	}
}

func TestCircuit_NotFoundDoesNotCount(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = c.Execute(ctx, func(_ context.Context) error {
			return ErrNotFound
		})
	}
	if got := c.State(); got != CircuitClosed {
		t.Errorf("not-found must not open the circuit, got %s", got)
	}
}

func TestCircuit_HalfOpenProbeCloses(t *testing.T) {
	now := time.Now()
	c := NewCircuit(CircuitConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Execute(ctx, busyCall)
	if got := c.State(); got != CircuitOpen {
		t.Fatalf("expected open, got %s", got)
	}

	now = now.Add(31 * time.Second)
	if err := c.Execute(ctx, okCall); err != nil {
		t.Fatalf("probe should succeed: %v", err)
	}
	if got := c.State(); got != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", got)
	}
}

func TestCircuit_HalfOpenProbeReopens(t *testing.T) {
	now := time.Now()
	c := NewCircuit(CircuitConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Execute(ctx, busyCall)
	now = now.Add(31 * time.Second)
	_ = c.Execute(ctx, busyCall)

	if got := c.State(); got != CircuitOpen {
		t.Fatalf("expected reopen after failed probe, got %s", got)
	}
	if err := c.Execute(ctx, okCall); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen right after reopen, got %v", err)
	}
}

func TestCircuit_StateChangeCallback(t *testing.T) {
	var transitions []string
	c := NewCircuit(CircuitConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	now := time.Now()
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Execute(ctx, busyCall)
	now = now.Add(2 * time.Minute)
	_ = c.Execute(ctx, okCall)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}
