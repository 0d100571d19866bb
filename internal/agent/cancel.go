package agent

import (
	"context"
	"errors"
)

// ErrExecutionStopped is returned by StartKeyword when the context given by
// the host engine ends while the keyword is held at a pause.
var ErrExecutionStopped = errors.New("execution stopped while paused")

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExecutionStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrExecutionStopped
	}
	return err
}

func IsExecutionStopped(err error) bool {
	return errors.Is(normalizeStopErr(err), ErrExecutionStopped)
}
