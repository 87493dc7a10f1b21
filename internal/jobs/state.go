package jobs

import (
	"sync"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/queue"
)

// RuntimeState is the administrative state of one queue.
type RuntimeState struct {
	IsActive bool `json:"isActive"`
	IsPaused bool `json:"isPaused"`
}

// QueueStatus is a queue's runtime state together with its task counts.
type QueueStatus struct {
	Name         JobName      `json:"name"`
	RuntimeState RuntimeState `json:"queueStatus"`
	Counts       queue.Counts `json:"jobCounts"`
}

// stateTable holds the runtime state of every queue. It is owned by one Bus.
type stateTable struct {
	mu     sync.RWMutex
	states map[JobName]RuntimeState
}

func newStateTable() *stateTable {
	t := &stateTable{states: make(map[JobName]RuntimeState, len(Names))}
	for _, n := range Names {
		t.states[n] = RuntimeState{IsActive: true}
	}
	return t
}

func (t *stateTable) get(name JobName) RuntimeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[name]
}

func (t *stateTable) update(name JobName, fn func(*RuntimeState)) RuntimeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.states[name]
	fn(&s)
	t.states[name] = s
	return s
}

// FeatureGate reports whether a queue's feature is enabled.
// A disabled queue receives neither backlog scans nor fan-out.
type FeatureGate interface {
	Enabled(name JobName) bool
}

// FeatureGateFunc adapts a function to FeatureGate.
type FeatureGateFunc func(name JobName) bool

// Enabled calls f(name).
func (f FeatureGateFunc) Enabled(name JobName) bool {
	return f(name)
}

// AllEnabled is a FeatureGate with every feature on.
var AllEnabled FeatureGate = FeatureGateFunc(func(JobName) bool { return true })

// SystemFeatures gates queues on the live system configuration.
func SystemFeatures(store *config.SystemConfigStore) FeatureGate {
	return FeatureGateFunc(func(name JobName) bool {
		cfg := store.Get()
		switch name {
		case SmartSearch:
			return cfg.SmartSearchEnabled()
		case DuplicateDetection:
			return cfg.DuplicateDetectionEnabled()
		case FaceDetection, FacialRecognition:
			return cfg.FacialRecognitionEnabled()
		}
		return true
	})
}
