package notify

import (
	"context"
	"time"
)

// RunSummary is what a completed verification run reports outward.
type RunSummary struct {
	RunID    string        `json:"run_id"`
	Total    int           `json:"total"`
	Alive    int           `json:"alive"`
	Dead     int           `json:"dead"`
	Returned int           `json:"returned"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Notifier receives the summary after a run finishes. Failures are logged
// by callers and never affect the run's result.
type Notifier interface {
	Notify(ctx context.Context, s RunSummary) error
}

// Multi fans a summary out to several notifiers, returning the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, s RunSummary) error {
	var firstErr error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
