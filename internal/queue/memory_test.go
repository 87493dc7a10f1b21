package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func counts(t *testing.T, s *MemoryStore, queue string) Counts {
	t.Helper()
	c, err := s.Counts(context.Background(), queue)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	return c
}

func TestMemoryStore_EnqueueFillsDefaults(t *testing.T) {
	s := NewMemoryStore()
	task := &Task{Queue: "q", AssetID: "a"}
	if err := s.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if task.ID == "" {
		t.Error("expected id to be assigned")
	}
	if task.CreatedAt.IsZero() {
		t.Error("expected created time to be set")
	}
	if task.Kind != KindAsset || task.State != StateWaiting {
		t.Errorf("unexpected kind/state: %s/%s", task.Kind, task.State)
	}
}

func TestMemoryStore_EnqueueRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: "a"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: "a"}); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}
	// Different force flag is different work.
	if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: "a", Force: true}); err != nil {
		t.Errorf("expected forced task to be accepted, got %v", err)
	}
	if err := s.Enqueue(ctx, &Task{AssetID: "a"}); err == nil {
		t.Error("expected error for task without queue")
	}
	if got := counts(t, s, "q").Waiting; got != 2 {
		t.Errorf("expected 2 waiting, got %d", got)
	}
}

func TestMemoryStore_DefaultKindIsSameWork(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: "a", Kind: KindAsset}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: "a"}); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask for task without kind, got %v", err)
	}
	if err := s.Enqueue(ctx, &Task{Queue: "q", Kind: KindBacklog}); err != nil {
		t.Errorf("backlog task rejected: %v", err)
	}
	if got := counts(t, s, "q").Waiting; got != 2 {
		t.Errorf("expected 2 waiting, got %d", got)
	}
}

// Only waiting tasks block identical work; a failed task can be queued again.
func TestMemoryStore_ReenqueueAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	go s.Run(ctx, map[string]int{"q": 1}, ProcessorFunc(func(context.Context, *Task) error {
		return errors.New("boom")
	}))

	if err := s.Enqueue(ctx, &Task{Queue: "q", Kind: KindBacklog}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitFor(t, func() bool { return counts(t, s, "q").Failed == 1 })

	if err := s.Enqueue(ctx, &Task{Queue: "q", Kind: KindBacklog}); err != nil {
		t.Fatalf("re-enqueue after failure: %v", err)
	}
	waitFor(t, func() bool { return counts(t, s, "q").Failed == 2 })
}

func TestMemoryStore_CountsUnknownQueue(t *testing.T) {
	s := NewMemoryStore()
	if c := counts(t, s, "missing"); c != (Counts{}) {
		t.Errorf("expected zero counts, got %+v", c)
	}
}

func TestMemoryStore_ProcessesAndRecordsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()

	for _, id := range []string{"ok-1", "ok-2", "bad"} {
		if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: id}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, map[string]int{"q": 2}, ProcessorFunc(func(_ context.Context, task *Task) error {
			if task.AssetID == "bad" {
				return errors.New("boom")
			}
			return nil
		}))
	}()

	waitFor(t, func() bool { return counts(t, s, "q").Drained() })
	cancel()
	<-done

	c := counts(t, s, "q")
	if c.Completed != 2 || c.Failed != 1 {
		t.Errorf("expected 2 completed and 1 failed, got %+v", c)
	}

	failed := s.Failed("q")
	if len(failed) != 1 || failed[0].AssetID != "bad" || failed[0].Error != "boom" {
		t.Errorf("unexpected failed tasks: %+v", failed)
	}

	n, err := s.ClearFailed(context.Background(), "q")
	if err != nil || n != 1 {
		t.Fatalf("ClearFailed = %d, %v", n, err)
	}
	c = counts(t, s, "q")
	if c.Failed != 0 || c.Completed != 2 {
		t.Errorf("ClearFailed touched other states: %+v", c)
	}

	// Idempotent.
	n, err = s.ClearFailed(context.Background(), "q")
	if err != nil || n != 0 {
		t.Errorf("second ClearFailed = %d, %v", n, err)
	}
}

func TestMemoryStore_PausedQueueNeverClaims(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	if err := s.Pause(ctx, "q"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	var mu sync.Mutex
	processed := 0
	go s.Run(ctx, map[string]int{"q": 1}, ProcessorFunc(func(context.Context, *Task) error {
		mu.Lock()
		processed++
		mu.Unlock()
		return nil
	}))

	if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: "a"}); err != nil {
		t.Fatalf("paused queue must accept tasks: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if c := counts(t, s, "q"); c.Waiting != 1 || c.Active != 0 {
		t.Fatalf("paused queue claimed a task: %+v", c)
	}

	if err := s.Resume(ctx, "q"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	waitFor(t, func() bool { return counts(t, s, "q").Completed == 1 })

	mu.Lock()
	defer mu.Unlock()
	if processed != 1 {
		t.Errorf("expected 1 processed task, got %d", processed)
	}
}

func TestMemoryStore_PauseLetsActiveTaskFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	started := make(chan struct{})
	release := make(chan struct{})
	go s.Run(ctx, map[string]int{"q": 1}, ProcessorFunc(func(_ context.Context, task *Task) error {
		if task.AssetID == "slow" {
			close(started)
			<-release
		}
		return nil
	}))

	if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: "slow"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	<-started

	if err := s.Pause(ctx, "q"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: "next"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	close(release)

	waitFor(t, func() bool { return counts(t, s, "q").Completed == 1 })
	time.Sleep(20 * time.Millisecond)
	if c := counts(t, s, "q"); c.Waiting != 1 || c.Active != 0 {
		t.Errorf("expected next task to stay waiting, got %+v", c)
	}
}

func TestMemoryStore_EmptyRemovesWaitingOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	started := make(chan struct{})
	release := make(chan struct{})
	go s.Run(ctx, map[string]int{"q": 1}, ProcessorFunc(func(_ context.Context, task *Task) error {
		if task.AssetID == "slow" {
			close(started)
			<-release
		}
		return nil
	}))

	if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: "slow"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	<-started
	if err := s.Pause(ctx, "q"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Enqueue(ctx, &Task{Queue: "q", AssetID: id}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	n, err := s.Empty(ctx, "q")
	if err != nil || n != 3 {
		t.Fatalf("Empty = %d, %v", n, err)
	}
	if c := counts(t, s, "q"); c.Waiting != 0 || c.Active != 1 {
		t.Errorf("Empty must keep the active task: %+v", c)
	}

	n, err = s.Empty(ctx, "q")
	if err != nil || n != 0 {
		t.Errorf("second Empty = %d, %v", n, err)
	}

	close(release)
	waitFor(t, func() bool { return counts(t, s, "q").Completed == 1 })
}

func TestMemoryStore_PriorityThenFIFO(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemoryStore()

	if err := s.Pause(ctx, "q"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	tasks := []*Task{
		{Queue: "q", AssetID: "backlog-1"},
		{Queue: "q", AssetID: "backlog-2"},
		{Queue: "q", AssetID: "upload", Priority: PriorityHigh},
	}
	for _, task := range tasks {
		if err := s.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	var mu sync.Mutex
	var order []string
	go s.Run(ctx, map[string]int{"q": 1}, ProcessorFunc(func(_ context.Context, task *Task) error {
		mu.Lock()
		order = append(order, task.AssetID)
		mu.Unlock()
		return nil
	}))
	if err := s.Resume(ctx, "q"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	waitFor(t, func() bool { return counts(t, s, "q").Completed == 3 })

	mu.Lock()
	defer mu.Unlock()
	want := []string{"upload", "backlog-1", "backlog-2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestMemoryStore_Close(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Enqueue(context.Background(), &Task{Queue: "q"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestCounts_Drained(t *testing.T) {
	tests := []struct {
		name   string
		counts Counts
		want   bool
	}{
		{"empty", Counts{}, true},
		{"only history", Counts{Completed: 5, Failed: 2}, true},
		{"waiting", Counts{Waiting: 1}, false},
		{"active", Counts{Active: 1}, false},
		{"delayed", Counts{Delayed: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.counts.Drained(); got != tt.want {
				t.Errorf("Drained() = %v, want %v", got, tt.want)
			}
		})
	}
}
