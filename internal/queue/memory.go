package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MemoryStore is an in-process Store. Task state is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	seq    uint64
	closed bool
}

type memQueue struct {
	waiting   []*memTask
	active    map[string]*Task
	failed    []*Task
	completed int
	paused    bool

	// changed is closed and replaced whenever workers may have something to claim.
	changed chan struct{}
}

type memTask struct {
	task *Task
	seq  uint64
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: make(map[string]*memQueue)}
}

// queue returns the named queue, creating it on first use. Caller holds s.mu.
func (s *MemoryStore) queue(name string) *memQueue {
	q, ok := s.queues[name]
	if !ok {
		q = &memQueue{
			active:  make(map[string]*Task),
			changed: make(chan struct{}),
		}
		s.queues[name] = q
	}
	return q
}

func (q *memQueue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Enqueue adds a waiting task unless an identical one is already waiting.
func (s *MemoryStore) Enqueue(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if task.Queue == "" {
		return fmt.Errorf("enqueue: task has no queue")
	}

	if task.Kind == "" {
		task.Kind = KindAsset
	}
	q := s.queue(task.Queue)
	for _, w := range q.waiting {
		if w.task.sameWork(task) {
			return ErrDuplicateTask
		}
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	task.State = StateWaiting
	task.Error = ""

	s.seq++
	stored := *task
	q.waiting = append(q.waiting, &memTask{task: &stored, seq: s.seq})
	sort.SliceStable(q.waiting, func(i, j int) bool {
		if q.waiting[i].task.Priority != q.waiting[j].task.Priority {
			return q.waiting[i].task.Priority > q.waiting[j].task.Priority
		}
		return q.waiting[i].seq < q.waiting[j].seq
	})
	q.notify()
	return nil
}

// Counts returns task counts for a queue.
func (s *MemoryStore) Counts(_ context.Context, queue string) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queue]
	if !ok {
		return Counts{}, nil
	}
	return Counts{
		Waiting:   len(q.waiting),
		Active:    len(q.active),
		Completed: q.completed,
		Failed:    len(q.failed),
	}, nil
}

// Empty removes all waiting tasks of a queue.
func (s *MemoryStore) Empty(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queue]
	if !ok {
		return 0, nil
	}
	n := len(q.waiting)
	q.waiting = nil
	q.notify()
	return n, nil
}

// ClearFailed removes all failed tasks of a queue.
func (s *MemoryStore) ClearFailed(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queue]
	if !ok {
		return 0, nil
	}
	n := len(q.failed)
	q.failed = nil
	return n, nil
}

// Failed returns copies of the failed tasks of a queue, oldest first.
func (s *MemoryStore) Failed(queue string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queue]
	if !ok {
		return nil
	}
	out := make([]Task, 0, len(q.failed))
	for _, t := range q.failed {
		out = append(out, *t)
	}
	return out
}

// Pause stops workers from claiming tasks of the queue.
func (s *MemoryStore) Pause(_ context.Context, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue(queue).paused = true
	return nil
}

// Resume lets workers claim tasks of the queue again.
func (s *MemoryStore) Resume(_ context.Context, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queue)
	q.paused = false
	q.notify()
	return nil
}

// claim moves the next waiting task to active. When nothing can be claimed it
// returns nil and a channel that is closed on the next state change.
func (s *MemoryStore) claim(queue string) (*Task, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queue)
	if q.paused || len(q.waiting) == 0 || s.closed {
		return nil, q.changed
	}

	next := q.waiting[0].task
	q.waiting = q.waiting[1:]
	next.State = StateActive
	q.active[next.ID] = next
	return next, nil
}

// finish records the outcome of an active task.
func (s *MemoryStore) finish(task *Task, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(task.Queue)
	delete(q.active, task.ID)
	if err != nil {
		task.State = StateFailed
		task.Error = err.Error()
		q.failed = append(q.failed, task)
	} else {
		task.State = StateCompleted
		q.completed++
	}
	q.notify()
}

// Run starts concurrency[queue] workers per queue and blocks until ctx is done
// and every in-flight task has finished.
func (s *MemoryStore) Run(ctx context.Context, concurrency map[string]int, p Processor) error {
	var wg sync.WaitGroup
	for queue, n := range concurrency {
		n = max(n, 1)
		for i := range n {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				s.work(ctx, queue, worker, p)
			}(i)
		}
	}
	wg.Wait()
	return nil
}

func (s *MemoryStore) work(ctx context.Context, queue string, worker int, p Processor) {
	log := logrus.WithFields(logrus.Fields{"queue": queue, "worker": worker})
	log.Debug("worker started")

	for ctx.Err() == nil {
		task, wait := s.claim(queue)
		if task == nil {
			select {
			case <-ctx.Done():
			case <-wait:
			}
			continue
		}

		claimed := *task
		err := p.Process(ctx, &claimed)
		s.finish(task, err)
	}
	log.Debug("worker stopped")
}

// Close stops the store from accepting or handing out tasks.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, q := range s.queues {
		q.notify()
	}
	return nil
}

// Verify interface compliance
var _ Store = (*MemoryStore)(nil)
