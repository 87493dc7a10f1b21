package jobs

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/queue"
)

// OutcomeKind classifies the result of processing one asset task.
type OutcomeKind string

const (
	OutcomeSuccess                OutcomeKind = "success"
	OutcomeSkippedAlreadyCurrent  OutcomeKind = "skipped-already-current"
	OutcomeSkippedDependencyUnmet OutcomeKind = "skipped-dependency-unmet"
	OutcomeSkippedDisabled        OutcomeKind = "skipped-disabled"
	OutcomeFailed                 OutcomeKind = "failed"
)

// Outcome is what a handler reports for a task.
// Produced is set on success when the handler wrote its attribute; only then do dependents fan out.
type Outcome struct {
	Kind     OutcomeKind
	Produced bool
	Reason   string
}

// Success reports the attribute was written.
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess, Produced: true}
}

// SkippedAlreadyCurrent reports the attribute exists and the source bytes are unchanged.
func SkippedAlreadyCurrent() Outcome {
	return Outcome{Kind: OutcomeSkippedAlreadyCurrent}
}

// SkippedDependencyUnmet reports the upstream attribute is missing.
func SkippedDependencyUnmet() Outcome {
	return Outcome{Kind: OutcomeSkippedDependencyUnmet}
}

// SkippedDisabled reports the queue's feature is turned off.
func SkippedDisabled() Outcome {
	return Outcome{Kind: OutcomeSkippedDisabled}
}

// Failed reports a terminal failure for the task.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: err.Error()}
}

// Failedf reports a terminal failure with a formatted reason.
func Failedf(format string, args ...any) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf(format, args...)}
}

// Skipped reports whether the outcome is any of the skip kinds.
func (o Outcome) Skipped() bool {
	switch o.Kind {
	case OutcomeSkippedAlreadyCurrent, OutcomeSkippedDependencyUnmet, OutcomeSkippedDisabled:
		return true
	}
	return false
}

// Handler processes asset tasks of one queue.
type Handler interface {
	Process(ctx context.Context, task *queue.Task) Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task *queue.Task) Outcome

// Process calls f(ctx, task).
func (f HandlerFunc) Process(ctx context.Context, task *queue.Task) Outcome {
	return f(ctx, task)
}

// Registry maps each job name to its handler.
type Registry map[JobName]Handler

// Lookup returns the handler for name.
func (r Registry) Lookup(name JobName) (Handler, error) {
	h, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: no handler for %q", ErrInvalidJobName, name)
	}
	return h, nil
}
