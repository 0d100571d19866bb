package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeStopErr(t *testing.T) {
	t.Parallel()

	if normalizeStopErr(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	for _, err := range []error{
		context.Canceled,
		context.DeadlineExceeded,
		fmt.Errorf("wait: %w", context.Canceled),
		ErrExecutionStopped,
	} {
		if !errors.Is(normalizeStopErr(err), ErrExecutionStopped) {
			t.Fatalf("expected ErrExecutionStopped for %v", err)
		}
		if !IsExecutionStopped(err) {
			t.Fatalf("IsExecutionStopped(%v) = false", err)
		}
	}

	other := errors.New("boom")
	if normalizeStopErr(other) != other {
		t.Fatal("unrelated errors pass through")
	}
}
