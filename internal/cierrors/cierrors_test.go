package cierrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CategoryStage, SeverityError, "stage exited non-zero")
	want := "stage (error): stage exited non-zero"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	wrapped := Wrap(errors.New("boom"), CategoryInternal, SeverityFatal, "orchestration failed")
	if got := wrapped.Error(); got != "internal (fatal): orchestration failed: boom" {
		t.Errorf("unexpected wrapped format: %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := InfrastructureFailure("linux-stable", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause through Unwrap")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("x"), false},
		{"stage failure", StageFailed("lane", "build", 101), false},
		{"empty matrix", EmptyMatrix(), false},
		{"provision failure", ProvisionFailed("lane", errors.New("rustup timed out")), true},
		{"checkout failure", CheckoutFailed("lane", errors.New("network")), true},
		{"infrastructure", InfrastructureFailure("lane", errors.New("spawn failed")), true},
		{"wrapped retryable", fmt.Errorf("outer: %w", InfrastructureFailure("lane", errors.New("x"))), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategoryOf(t *testing.T) {
	if got := CategoryOf(DuplicateLane("platform", "linux")); got != CategoryConfig {
		t.Errorf("expected config, got %s", got)
	}
	if got := CategoryOf(StageFailed("l", "test", 1)); got != CategoryStage {
		t.Errorf("expected stage, got %s", got)
	}
	if got := CategoryOf(errors.New("plain")); got != CategoryInternal {
		t.Errorf("plain errors default to internal, got %s", got)
	}
}

func TestWithContext(t *testing.T) {
	err := StageFailed("linux-stable", "lint", 2)
	if err.Context["lane"] != "linux-stable" {
		t.Errorf("missing lane context: %v", err.Context)
	}
	if err.Context["exit_code"] != 2 {
		t.Errorf("missing exit code context: %v", err.Context)
	}
	err.WithContext("attempt", 1)
	if err.Context["attempt"] != 1 {
		t.Error("WithContext should add fields in place")
	}
}
