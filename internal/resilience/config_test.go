package resilience

import (
	"testing"
	"time"
)

func TestFromRetryConfig_KeepsDefaults(t *testing.T) {
	cfg := FromRetryConfig(0, 0, 0, 0, -1)
	def := DefaultRetryConfig()

	if cfg.MaxAttempts != def.MaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, def.MaxAttempts)
	}
	if cfg.InitialBackoff != def.InitialBackoff {
		t.Errorf("InitialBackoff = %v, want %v", cfg.InitialBackoff, def.InitialBackoff)
	}
	if cfg.JitterFraction != def.JitterFraction {
		t.Errorf("JitterFraction = %v, want %v", cfg.JitterFraction, def.JitterFraction)
	}
}

func TestFromRetryConfig_Overrides(t *testing.T) {
	cfg := FromRetryConfig(5, 100, 2000, 3.0, 0)

	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 100ms", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 2*time.Second {
		t.Errorf("MaxBackoff = %v, want 2s", cfg.MaxBackoff)
	}
	if cfg.Multiplier != 3.0 {
		t.Errorf("Multiplier = %v, want 3.0", cfg.Multiplier)
	}
	if cfg.JitterFraction != 0 {
		t.Errorf("JitterFraction = %v, want 0", cfg.JitterFraction)
	}
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(0, 0)
	if cfg.FailureThreshold != 5 || cfg.ResetTimeout != 30*time.Second {
		t.Errorf("defaults not kept: %+v", cfg)
	}

	cfg = FromCircuitConfig(2, 10)
	if cfg.FailureThreshold != 2 {
		t.Errorf("FailureThreshold = %d, want 2", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != 10*time.Second {
		t.Errorf("ResetTimeout = %v, want 10s", cfg.ResetTimeout)
	}
}
