package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/photo-jobs/internal/constants"
	"github.com/kozaktomas/photo-jobs/internal/queue"
)

// Observer reports queue depth so callers can detect a drained queue.
type Observer struct {
	store queue.Store
	poll  time.Duration
}

// NewObserver creates an observer polling at the default interval.
func NewObserver(store queue.Store) *Observer {
	return &Observer{store: store, poll: constants.DefaultDrainPollInterval}
}

// WithPollInterval overrides how often WaitForDrain polls.
func (o *Observer) WithPollInterval(d time.Duration) *Observer {
	if d > 0 {
		o.poll = d
	}
	return o
}

// GetQueueState returns the task counts of one queue.
func (o *Observer) GetQueueState(ctx context.Context, name JobName) (queue.Counts, error) {
	if !name.Valid() {
		return queue.Counts{}, fmt.Errorf("%w: %q", ErrInvalidJobName, name)
	}
	counts, err := o.store.Counts(ctx, string(name))
	if err != nil {
		return queue.Counts{}, fmt.Errorf("counts for %s: %w", name, err)
	}
	return counts, nil
}

// Snapshot returns the task counts of every queue.
func (o *Observer) Snapshot(ctx context.Context) (map[JobName]queue.Counts, error) {
	out := make(map[JobName]queue.Counts, len(Names))
	for _, name := range Names {
		counts, err := o.GetQueueState(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = counts
	}
	return out, nil
}

// WaitForDrain blocks until the queue has nothing waiting or active.
// A zero timeout uses constants.DefaultDrainTimeout. Returns ErrQueueDrainTimeout
// when the queue is still busy at the deadline.
func (o *Observer) WaitForDrain(ctx context.Context, name JobName, timeout time.Duration) error {
	return o.WaitForDrainAll(ctx, []JobName{name}, timeout)
}

// WaitForDrainAll blocks until every listed queue is drained in one sweep.
// Queues are checked in the given order, so list upstream queues first.
func (o *Observer) WaitForDrainAll(ctx context.Context, names []JobName, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = constants.DefaultDrainTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()

	for {
		busy, err := o.firstBusy(ctx, names)
		if err != nil {
			return err
		}
		if busy == "" {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s after %s", ErrQueueDrainTimeout, busy, timeout)
		case <-ticker.C:
		}
	}
}

func (o *Observer) firstBusy(ctx context.Context, names []JobName) (JobName, error) {
	for _, name := range names {
		counts, err := o.GetQueueState(ctx, name)
		if err != nil {
			return "", err
		}
		if !counts.Drained() {
			return name, nil
		}
	}
	return "", nil
}
