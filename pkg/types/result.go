package types

import (
	"context"
	"errors"
)

// Result classifies the outcome of a pipeline step
type Result int

const (
	Success Result = iota
	Skip
	Fatal
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Skip:
		return "skip"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an error to the result the pipeline acts on.
// Batch-local failures are reported as Skip: they are logged and the run goes on.
// Unknown errors are treated as Skip as well; only the fatal sentinels and
// cancellation stop a run. Deadline errors come from per-call timeouts and
// stay batch-local.
func Classify(err error) Result {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, context.Canceled):
		return Fatal
	case errors.Is(err, ErrRootUnreadable),
		errors.Is(err, ErrStoreUnreachable),
		errors.Is(err, ErrStoreUnwritable),
		errors.Is(err, ErrDimensionMismatch):
		return Fatal
	default:
		return Skip
	}
}
