package queue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hibiken/asynq"
	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/constants"
	"github.com/sirupsen/logrus"
)

// maxTaskSlots is how many deterministic ids one piece of work may occupy at
// once. A slot holds at most one task; identical work only dedupes against a
// slot whose task is still pending.
const maxTaskSlots = 8

// AsynqStore is a Redis-backed Store built on asynq.
// Each job queue maps to an asynq queue of the same name and a task type of the same name.
// Failed tasks are not retried and land in the archived set, which is reported as failed.
type AsynqStore struct {
	redisOpt  asynq.RedisClientOpt
	client    *asynq.Client
	inspector *asynq.Inspector
}

// taskPayload is the wire format of a task. Identical work yields identical payloads.
type taskPayload struct {
	AssetID string `json:"assetId,omitempty"`
	Kind    Kind   `json:"kind"`
	Force   bool   `json:"force"`
}

// NewAsynqStore connects to Redis using the queue configuration.
func NewAsynqStore(cfg *config.QueueConfig) *AsynqStore {
	opt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	return &AsynqStore{
		redisOpt:  opt,
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// Enqueue publishes a task to the asynq queue named after task.Queue.
// Priority is not supported within a single asynq queue and is ignored.
func (s *AsynqStore) Enqueue(ctx context.Context, task *Task) error {
	if task.Queue == "" {
		return fmt.Errorf("enqueue: task has no queue")
	}
	if task.Kind == "" {
		task.Kind = KindAsset
	}

	payload, err := json.Marshal(taskPayload{AssetID: task.AssetID, Kind: task.Kind, Force: task.Force})
	if err != nil {
		return fmt.Errorf("encode task payload: %w", err)
	}

	id, err := s.freeSlot(task)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(task.Queue),
		asynq.MaxRetry(0),
		asynq.Retention(constants.CompletedRetention),
	}
	if id != "" {
		opts = append(opts, asynq.TaskID(id))
	}
	info, err := s.client.EnqueueContext(ctx, asynq.NewTask(task.Queue, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Another producer took the slot between the lookup and the enqueue.
		return ErrDuplicateTask
	}
	if err != nil {
		return fmt.Errorf("enqueue %s task: %w", task.Queue, err)
	}

	task.ID = info.ID
	task.State = StateWaiting
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	return nil
}

// slotID is the deterministic asynq task id of the given slot for a piece of work.
func slotID(task *Task, slot int) string {
	sum := sha1.Sum(fmt.Appendf(nil, "%s|%s|%s|%t", task.Queue, task.Kind, task.AssetID, task.Force))
	return fmt.Sprintf("%s-%s-%d", task.Queue, hex.EncodeToString(sum[:8]), slot)
}

// slotState is the state of the task occupying a slot, or zero when the slot is empty.
type slotState = asynq.TaskState

// pickSlot chooses a slot for new work given the state of every slot.
// It reports ErrDuplicateTask when identical work is already pending. Completed
// slots are reusable; archived tasks keep their slot so they stay counted as
// failed until ClearFailed. It returns -1 when every slot is busy.
func pickSlot(states []slotState) (slot int, reuse bool, err error) {
	slot = -1
	for i, st := range states {
		switch st {
		case asynq.TaskStatePending:
			return -1, false, ErrDuplicateTask
		case 0:
			if slot < 0 || reuse {
				slot, reuse = i, false
			}
		case asynq.TaskStateCompleted:
			if slot < 0 {
				slot, reuse = i, true
			}
		}
	}
	return slot, reuse, nil
}

// freeSlot looks up every slot of task's work and returns the id to enqueue
// under. An empty id means every slot is busy and asynq assigns a random one.
func (s *AsynqStore) freeSlot(task *Task) (string, error) {
	states := make([]slotState, maxTaskSlots)
	for i := range states {
		info, err := s.inspector.GetTaskInfo(task.Queue, slotID(task, i))
		switch {
		case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
			continue
		case err != nil:
			return "", fmt.Errorf("look up %s task: %w", task.Queue, err)
		}
		states[i] = info.State
	}

	slot, reuse, err := pickSlot(states)
	if err != nil || slot < 0 {
		return "", err
	}
	id := slotID(task, slot)
	if reuse {
		if err := s.inspector.DeleteTask(task.Queue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return "", fmt.Errorf("release completed %s task: %w", task.Queue, err)
		}
	}
	return id, nil
}

// known reports whether asynq has ever seen the queue. The inspector returns
// an error for queues it does not know.
func (s *AsynqStore) known(queue string) (bool, error) {
	queues, err := s.inspector.Queues()
	if err != nil {
		return false, fmt.Errorf("list queues: %w", err)
	}
	return slices.Contains(queues, queue), nil
}

// Counts maps asynq's task states onto queue counts.
// Archived tasks are failed tasks; scheduled and retry tasks are delayed.
func (s *AsynqStore) Counts(_ context.Context, queue string) (Counts, error) {
	ok, err := s.known(queue)
	if err != nil || !ok {
		return Counts{}, err
	}

	info, err := s.inspector.GetQueueInfo(queue)
	if err != nil {
		return Counts{}, fmt.Errorf("get queue info for %s: %w", queue, err)
	}
	return Counts{
		Waiting:   info.Pending,
		Active:    info.Active,
		Completed: info.Completed,
		Failed:    info.Archived,
		Delayed:   info.Scheduled + info.Retry,
	}, nil
}

// Empty deletes all pending tasks of a queue.
func (s *AsynqStore) Empty(_ context.Context, queue string) (int, error) {
	ok, err := s.known(queue)
	if err != nil || !ok {
		return 0, err
	}

	n, err := s.inspector.DeleteAllPendingTasks(queue)
	if err != nil {
		return 0, fmt.Errorf("delete pending tasks of %s: %w", queue, err)
	}
	return n, nil
}

// ClearFailed deletes all archived tasks of a queue.
func (s *AsynqStore) ClearFailed(_ context.Context, queue string) (int, error) {
	ok, err := s.known(queue)
	if err != nil || !ok {
		return 0, err
	}

	n, err := s.inspector.DeleteAllArchivedTasks(queue)
	if err != nil {
		return 0, fmt.Errorf("delete archived tasks of %s: %w", queue, err)
	}
	return n, nil
}

// Pause pauses the asynq queue. Pending tasks stay pending.
func (s *AsynqStore) Pause(_ context.Context, queue string) error {
	if err := s.inspector.PauseQueue(queue); err != nil {
		return fmt.Errorf("pause queue %s: %w", queue, err)
	}
	return nil
}

// Resume unpauses the asynq queue.
func (s *AsynqStore) Resume(_ context.Context, queue string) error {
	if err := s.inspector.UnpauseQueue(queue); err != nil {
		return fmt.Errorf("resume queue %s: %w", queue, err)
	}
	return nil
}

// Paused reports the pause flag stored in Redis.
func (s *AsynqStore) Paused(_ context.Context, queue string) (bool, error) {
	ok, err := s.known(queue)
	if err != nil || !ok {
		return false, err
	}

	info, err := s.inspector.GetQueueInfo(queue)
	if err != nil {
		return false, fmt.Errorf("get queue info for %s: %w", queue, err)
	}
	return info.Paused, nil
}

// Run starts an asynq server consuming every queue in concurrency and blocks
// until ctx is done. The server's total concurrency is the sum of the per-queue
// values, which are also used as queue weights.
func (s *AsynqStore) Run(ctx context.Context, concurrency map[string]int, p Processor) error {
	total := 0
	weights := make(map[string]int, len(concurrency))
	mux := asynq.NewServeMux()
	for queue, n := range concurrency {
		n = max(n, 1)
		total += n
		weights[queue] = n
		mux.HandleFunc(queue, s.handler(p))
	}

	srv := asynq.NewServer(s.redisOpt, asynq.Config{
		Concurrency:     total,
		Queues:          weights,
		Logger:          logrus.StandardLogger(),
		LogLevel:        asynq.InfoLevel,
		ShutdownTimeout: constants.ShutdownTimeout,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logrus.WithFields(logrus.Fields{
				"queue":   task.Type(),
				"payload": string(task.Payload()),
			}).WithError(err).Debug("asynq task failed")
		}),
	})

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	logrus.WithFields(logrus.Fields{"concurrency": total, "queues": weights}).Info("asynq workers started")

	<-ctx.Done()
	srv.Shutdown()
	logrus.Info("asynq workers stopped")
	return nil
}

func (s *AsynqStore) handler(p Processor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload taskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			// Malformed payloads can never succeed.
			return fmt.Errorf("decode task payload: %v: %w", err, asynq.SkipRetry)
		}

		task := &Task{
			Queue:   t.Type(),
			AssetID: payload.AssetID,
			Kind:    payload.Kind,
			Force:   payload.Force,
			State:   StateActive,
		}
		if id, ok := asynq.GetTaskID(ctx); ok {
			task.ID = id
		}
		if queue, ok := asynq.GetQueueName(ctx); ok {
			task.Queue = queue
		}
		return p.Process(ctx, task)
	}
}

// Close closes the Redis client and inspector.
func (s *AsynqStore) Close() error {
	return errors.Join(s.client.Close(), s.inspector.Close())
}

// Verify interface compliance
var (
	_ Store         = (*AsynqStore)(nil)
	_ PauseReporter = (*AsynqStore)(nil)
)
