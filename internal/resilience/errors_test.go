package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped explicit", eris.Wrap(NewTransientError(errors.New("rate limited"), 429), "publish"), true},
		{"connection reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", &net.DNSError{Err: "timeout", IsTimeout: true}, true},
		{"message pattern", errors.New("read: i/o timeout"), true},
		{"plain", errors.New("invalid payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOn(t *testing.T) {
	errConflict := errors.New("conflict")
	should := RetryOn(errConflict)

	if !should(eris.Wrap(errConflict, "commit")) {
		t.Error("expected wrapped target to be retried")
	}
	if should(errors.New("other")) {
		t.Error("expected unrelated error not to be retried")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("status %d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("status %d should not be transient", code)
		}
	}
}

func TestClassifyError(t *testing.T) {
	if got := ClassifyError(NewTransientError(errors.New("x"), 502)); got != "transient" {
		t.Errorf("got %q, want transient", got)
	}
	if got := ClassifyError(errors.New("bad request")); got != "permanent" {
		t.Errorf("got %q, want permanent", got)
	}
}

func TestDLQEntry_CanRetry(t *testing.T) {
	e := &DLQEntry{RetryCount: 2, MaxRetries: 3, NextRetryAt: time.Now()}
	if !e.CanRetry() {
		t.Error("expected entry with retries left to be retryable")
	}
	e.RetryCount = 3
	if e.CanRetry() {
		t.Error("expected exhausted entry not to be retryable")
	}
}
