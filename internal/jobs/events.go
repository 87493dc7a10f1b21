package jobs

import (
	"sync"
	"time"

	"github.com/kozaktomas/photo-jobs/internal/constants"
)

// EventType names a pipeline event.
type EventType string

// EventType constants describe what happened to a task or queue.
const (
	EventEnqueued  EventType = "enqueued"
	EventCompleted EventType = "completed"
	EventSkipped   EventType = "skipped"
	EventFailed    EventType = "failed"
	EventCommand   EventType = "command"
)

// Event is a pipeline event streamed to listeners.
type Event struct {
	Type    EventType `json:"type"`
	Queue   JobName   `json:"queue"`
	AssetID string    `json:"assetId,omitempty"`
	TaskID  string    `json:"taskId,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Broadcaster provides listener management and event broadcasting.
// Slow listeners miss events rather than blocking the pipeline.
type Broadcaster struct {
	listeners []chan Event
	mu        sync.RWMutex
}

// NewBroadcaster creates a broadcaster with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// AddListener adds an event listener.
func (b *Broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Send sends an event to all listeners.
func (b *Broadcaster) Send(event Event) {
	if b == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}
