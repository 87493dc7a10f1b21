package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/queue"
	"github.com/sirupsen/logrus"
)

// ErrTaskFailed wraps the reason a handler gave for failing a task.
var ErrTaskFailed = errors.New("task failed")

// Dispatcher is the queue.Processor the workers run. Backlog tasks go to the
// scheduler, asset tasks to the handler registered for the queue.
// Failures stay with the task: they are logged, recorded by the store and never retried.
type Dispatcher struct {
	registry  Registry
	scheduler *Scheduler
	events    *Broadcaster
}

// NewDispatcher creates a dispatcher over the given handlers.
func NewDispatcher(registry Registry, scheduler *Scheduler) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		scheduler: scheduler,
		events:    scheduler.bus.events,
	}
}

// Process handles one claimed task. A returned error marks the task failed.
func (d *Dispatcher) Process(ctx context.Context, task *queue.Task) (err error) {
	name, err := ParseJobName(task.Queue)
	if err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{
		"queue":    name,
		"task_id":  task.ID,
		"asset_id": task.AssetID,
		"kind":     task.Kind,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("handler panic: %v", r)
			err = fmt.Errorf("%w: panic: %v", ErrTaskFailed, r)
			d.send(EventFailed, name, task, err.Error())
		}
	}()

	if task.Kind == queue.KindBacklog {
		queued, err := d.scheduler.RunBacklog(ctx, name, task.Force)
		if err != nil {
			log.WithError(err).Error("backlog scan failed")
			d.send(EventFailed, name, task, err.Error())
			return err
		}
		d.send(EventCompleted, name, task, fmt.Sprintf("queued %d", queued))
		return nil
	}

	handler, err := d.registry.Lookup(name)
	if err != nil {
		return err
	}

	outcome := handler.Process(ctx, task)
	switch {
	case outcome.Kind == OutcomeFailed:
		log.WithField("reason", outcome.Reason).Warn("task failed")
		d.send(EventFailed, name, task, outcome.Reason)
		return fmt.Errorf("%w: %s", ErrTaskFailed, outcome.Reason)

	case outcome.Skipped():
		log.WithField("outcome", outcome.Kind).Debug("task skipped")
		d.send(EventSkipped, name, task, string(outcome.Kind))
		return nil
	}

	d.send(EventCompleted, name, task, "")
	if !outcome.Produced {
		return nil
	}

	// The attribute is already durable; a fan-out problem must not fail the task.
	queued, err := d.scheduler.FanOut(ctx, name, task.AssetID)
	if err != nil {
		log.WithError(err).Error("fan-out failed")
	}
	if len(queued) > 0 {
		log.WithField("dependents", queued).Debug("fanned out")
	}
	return nil
}

func (d *Dispatcher) send(t EventType, name JobName, task *queue.Task, msg string) {
	d.events.Send(Event{Type: t, Queue: name, AssetID: task.AssetID, TaskID: task.ID, Message: msg})
}

// Concurrency returns the worker count per queue from the jobs configuration.
func Concurrency(cfg *config.JobsConfig) map[string]int {
	out := make(map[string]int, len(Names))
	for _, name := range Names {
		out[string(name)] = cfg.ConcurrencyFor(string(name))
	}
	return out
}

// Verify interface compliance
var _ queue.Processor = (*Dispatcher)(nil)
