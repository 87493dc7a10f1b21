package jobs

import (
	"context"

	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/queue"
)

// Pipeline wires the command bus, scheduler, dispatcher and observer around one queue store.
type Pipeline struct {
	Store      queue.Store
	Bus        *Bus
	Scheduler  *Scheduler
	Dispatcher *Dispatcher
	Observer   *Observer
}

// NewPipeline creates a pipeline. A nil features gate enables every queue.
func NewPipeline(store queue.Store, assets database.AssetReader, registry Registry, features FeatureGate) *Pipeline {
	bus := NewBus(store, features, NewBroadcaster())
	scheduler := NewScheduler(assets, store, bus)
	return &Pipeline{
		Store:      store,
		Bus:        bus,
		Scheduler:  scheduler,
		Dispatcher: NewDispatcher(registry, scheduler),
		Observer:   NewObserver(store),
	}
}

// Run starts the workers and blocks until ctx is done.
func (p *Pipeline) Run(ctx context.Context, concurrency map[string]int) error {
	return p.Store.Run(ctx, concurrency, p.Dispatcher)
}
