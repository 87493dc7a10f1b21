// Package queue provides the task queue store the job workers pull from.
// Two backends exist: an in-process store used by single-binary deployments and tests,
// and a Redis store built on asynq for separate API and worker processes.
package queue

import (
	"context"
	"errors"
	"time"
)

// Kind distinguishes per-asset tasks from backlog scans.
type Kind string

const (
	// KindAsset processes a single asset.
	KindAsset Kind = "asset"
	// KindBacklog enumerates assets and enqueues one asset task each.
	KindBacklog Kind = "backlog"
)

// State is the lifecycle state of a task.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Priorities. Higher priority tasks are claimed first within a queue.
const (
	PriorityDefault = 0
	PriorityHigh    = 10
)

var (
	// ErrDuplicateTask is returned when an identical task is already waiting.
	ErrDuplicateTask = errors.New("identical task already waiting")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("queue store closed")
)

// Task is a unit of work bound to one queue and, for asset tasks, one asset.
type Task struct {
	ID        string    `json:"id"`
	Queue     string    `json:"queue"`
	AssetID   string    `json:"assetId,omitempty"`
	Kind      Kind      `json:"kind"`
	Force     bool      `json:"force"`
	Priority  int       `json:"priority"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// sameWork reports whether two tasks would do the same work.
func (t *Task) sameWork(o *Task) bool {
	return t.Queue == o.Queue && t.AssetID == o.AssetID && t.Kind == o.Kind && t.Force == o.Force
}

// Counts holds the number of tasks per state for one queue.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// Drained reports whether nothing is waiting or running.
func (c Counts) Drained() bool {
	return c.Waiting == 0 && c.Active == 0 && c.Delayed == 0
}

// Processor handles a claimed task. A returned error marks the task failed.
type Processor interface {
	Process(ctx context.Context, task *Task) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, task *Task) error

// Process calls f(ctx, task).
func (f ProcessorFunc) Process(ctx context.Context, task *Task) error {
	return f(ctx, task)
}

// Store is a durable, per-queue task store.
// A paused queue still accepts new waiting tasks but never moves them to active.
type Store interface {
	// Enqueue adds a waiting task. ID and CreatedAt are filled when empty.
	Enqueue(ctx context.Context, task *Task) error
	// Counts returns task counts for a queue; unknown queues report zeros.
	Counts(ctx context.Context, queue string) (Counts, error)
	// Empty removes waiting tasks only and returns how many were removed.
	Empty(ctx context.Context, queue string) (int, error)
	// ClearFailed removes failed tasks only and returns how many were removed.
	ClearFailed(ctx context.Context, queue string) (int, error)
	// Pause stops waiting tasks from being claimed. Active tasks run to completion.
	Pause(ctx context.Context, queue string) error
	// Resume allows waiting tasks to be claimed again.
	Resume(ctx context.Context, queue string) error
	// Run starts workers for each queue with the given concurrency and blocks until ctx is done.
	Run(ctx context.Context, concurrency map[string]int, p Processor) error
	// Close releases resources held by the store.
	Close() error
}

// PauseReporter is implemented by stores whose pause flag is shared between processes.
type PauseReporter interface {
	Paused(ctx context.Context, queue string) (bool, error)
}
