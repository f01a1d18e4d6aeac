package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassHard},
		{"not found sentinel", ErrNotFound, ClassNotFound},
		{"wrapped not found", fmt.Errorf("cas 8000-28-0: %w", ErrNotFound), ClassNotFound},
		{"busy error", Busy(errors.New("rate limited"), 429), ClassBusy},
		{"wrapped busy", fmt.Errorf("fetch bundle: %w", Busy(errors.New("overloaded"), 503)), ClassBusy},
		{"conn reset", syscall.ECONNRESET, ClassBusy},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ClassBusy},
		{"io timeout message", errors.New("read tcp 10.0.0.1:443: i/o timeout"), ClassBusy},
		{"dns message", errors.New("lookup api.example.com: no such host"), ClassBusy},
		{"plain error", errors.New("invalid response shape"), ClassHard},
		{"http 400 body", errors.New("status 400: malformed request"), ClassHard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestBusyError_Unwrap(t *testing.T) {
	inner := errors.New("upstream")
	be := &BusyError{Err: inner, StatusCode: 503, RetryAfter: 5 * time.Second}
	if !errors.Is(be, inner) {
		t.Error("BusyError should unwrap to the inner error")
	}
	if be.Error() != "upstream" {
		t.Errorf("unexpected message: %q", be.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(ErrNotFound) {
		t.Error("not-found must not be retryable")
	}
	if IsRetryable(errors.New("parse failure")) {
		t.Error("hard failure must not be retryable")
	}
	if !IsRetryable(Busy(errors.New("busy"), 503)) {
		t.Error("busy failure must be retryable")
	}
}

func TestBusyHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !BusyHTTPStatus(code) {
			t.Errorf("status %d should be busy", code)
		}
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		if BusyHTTPStatus(code) {
			t.Errorf("status %d should not be busy", code)
		}
	}
}

func TestClassString(t *testing.T) {
	if ClassBusy.String() != "busy" || ClassNotFound.String() != "not_found" || ClassHard.String() != "hard" {
		t.Error("unexpected class names")
	}
}
