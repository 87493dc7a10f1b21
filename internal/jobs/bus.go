package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/queue"
	"github.com/sirupsen/logrus"
)

// Bus accepts administrative commands per queue and owns the queues' runtime state.
// Separate Bus instances share nothing, so tests can run independent pipelines.
type Bus struct {
	store    queue.Store
	states   *stateTable
	features FeatureGate
	events   *Broadcaster
}

// NewBus creates a command bus. Every queue starts active and not paused.
func NewBus(store queue.Store, features FeatureGate, events *Broadcaster) *Bus {
	if features == nil {
		features = AllEnabled
	}
	if events == nil {
		events = NewBroadcaster()
	}
	return &Bus{
		store:    store,
		states:   newStateTable(),
		features: features,
		events:   events,
	}
}

// Events returns the broadcaster pipeline events are sent to.
func (b *Bus) Events() *Broadcaster {
	return b.events
}

// Features returns the feature gate consulted before backlog scans and fan-out.
func (b *Bus) Features() FeatureGate {
	return b.features
}

// State returns the runtime state of a queue.
func (b *Bus) State(name JobName) RuntimeState {
	return b.states.get(name)
}

// currentState returns the runtime state, taking the pause flag from the store
// when it is shared between processes.
func (b *Bus) currentState(ctx context.Context, name JobName) RuntimeState {
	state := b.states.get(name)
	reporter, ok := b.store.(queue.PauseReporter)
	if !ok {
		return state
	}

	paused, err := reporter.Paused(ctx, string(name))
	if err != nil {
		logrus.WithError(err).WithField("queue", name).Warn("failed to read pause flag, using local state")
		return state
	}
	state.IsPaused = paused
	return state
}

// IssueCommand applies command to the named queue and returns its resulting status.
// Start marks the queue active and enqueues a backlog scan (all assets with force,
// otherwise only those missing the attribute). Start never resumes a paused queue.
func (b *Bus) IssueCommand(ctx context.Context, name JobName, command JobCommand, force bool) (QueueStatus, error) {
	if !name.Valid() {
		return QueueStatus{}, fmt.Errorf("%w: %q", ErrInvalidJobName, name)
	}

	log := logrus.WithFields(logrus.Fields{"queue": name, "command": command, "force": force})

	switch command {
	case CommandStart:
		b.states.update(name, func(s *RuntimeState) { s.IsActive = true })
		if err := b.startBacklog(ctx, name, force); err != nil {
			return QueueStatus{}, err
		}

	case CommandPause:
		b.states.update(name, func(s *RuntimeState) { s.IsPaused = true })
		if err := b.store.Pause(ctx, string(name)); err != nil {
			return QueueStatus{}, fmt.Errorf("pause %s: %w", name, err)
		}

	case CommandResume:
		b.states.update(name, func(s *RuntimeState) { s.IsPaused = false })
		if err := b.store.Resume(ctx, string(name)); err != nil {
			return QueueStatus{}, fmt.Errorf("resume %s: %w", name, err)
		}

	case CommandEmpty:
		n, err := b.store.Empty(ctx, string(name))
		if err != nil {
			return QueueStatus{}, fmt.Errorf("empty %s: %w", name, err)
		}
		log = log.WithField("removed", n)

	case CommandClearFailed:
		n, err := b.store.ClearFailed(ctx, string(name))
		if err != nil {
			return QueueStatus{}, fmt.Errorf("clear failed %s: %w", name, err)
		}
		log = log.WithField("removed", n)

	default:
		return QueueStatus{}, fmt.Errorf("%w: %q", ErrInvalidJobCommand, command)
	}

	log.Info("job command applied")
	b.events.Send(Event{Type: EventCommand, Queue: name, Message: string(command)})
	return b.Status(ctx, name)
}

func (b *Bus) startBacklog(ctx context.Context, name JobName, force bool) error {
	if !b.features.Enabled(name) {
		logrus.WithField("queue", name).Info("feature disabled, not starting backlog scan")
		return nil
	}

	task := &queue.Task{Queue: string(name), Kind: queue.KindBacklog, Force: force}
	err := b.store.Enqueue(ctx, task)
	if errors.Is(err, queue.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s backlog: %w", name, err)
	}

	b.events.Send(Event{Type: EventEnqueued, Queue: name, TaskID: task.ID, Message: "backlog"})
	return nil
}

// Status returns the runtime state and task counts of a queue.
func (b *Bus) Status(ctx context.Context, name JobName) (QueueStatus, error) {
	if !name.Valid() {
		return QueueStatus{}, fmt.Errorf("%w: %q", ErrInvalidJobName, name)
	}

	counts, err := b.store.Counts(ctx, string(name))
	if err != nil {
		return QueueStatus{}, fmt.Errorf("counts for %s: %w", name, err)
	}
	return QueueStatus{
		Name:         name,
		RuntimeState: b.currentState(ctx, name),
		Counts:       counts,
	}, nil
}

// StatusAll returns the status of every queue keyed by job name.
func (b *Bus) StatusAll(ctx context.Context) (map[JobName]QueueStatus, error) {
	out := make(map[JobName]QueueStatus, len(Names))
	for _, name := range Names {
		status, err := b.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = status
	}
	return out, nil
}
