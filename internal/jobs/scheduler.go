package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/constants"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/queue"
	"github.com/sirupsen/logrus"
)

// Scheduler decides which asset tasks are enqueued: backlog scans, fan-out
// after a produced attribute, and new uploads.
type Scheduler struct {
	assets   database.AssetReader
	store    queue.Store
	bus      *Bus
	pageSize int
}

// NewScheduler creates a scheduler that consults the bus for queue runtime
// state and feature toggles.
func NewScheduler(assets database.AssetReader, store queue.Store, bus *Bus) *Scheduler {
	return &Scheduler{
		assets:   assets,
		store:    store,
		bus:      bus,
		pageSize: constants.DefaultPageSize,
	}
}

// WithPageSize overrides the enumeration page size.
func (s *Scheduler) WithPageSize(n int) *Scheduler {
	if n > 0 {
		s.pageSize = n
	}
	return s
}

// Enumerate calls fn for every candidate asset of a backlog scan in stable id order.
// With force every asset is a candidate. Without force only assets missing the
// queue's attribute while carrying the upstream attribute are; assets whose
// upstream attribute is missing are skipped silently.
func (s *Scheduler) Enumerate(ctx context.Context, name JobName, force bool, fn func(assetID string) error) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidJobName, name)
	}

	after := ""
	for {
		var ids []string
		var err error
		if force {
			ids, err = s.assets.ListAssetIDs(ctx, after, s.pageSize)
		} else {
			ids, err = s.assets.GetAssetsMissingAttribute(ctx, name.Attribute(), Requires(name), after, s.pageSize)
		}
		if err != nil {
			return fmt.Errorf("enumerate %s backlog: %w", name, err)
		}

		for _, id := range ids {
			if err := fn(id); err != nil {
				return err
			}
		}
		if len(ids) < s.pageSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

// RunBacklog enqueues one asset task per enumerated asset, carrying the force flag.
// It runs on a worker of the queue so drain detection covers the scan itself.
func (s *Scheduler) RunBacklog(ctx context.Context, name JobName, force bool) (int, error) {
	log := logrus.WithFields(logrus.Fields{"queue": name, "force": force})
	if !s.bus.features.Enabled(name) {
		log.Info("feature disabled, skipping backlog scan")
		return 0, nil
	}

	queued := 0
	err := s.Enumerate(ctx, name, force, func(assetID string) error {
		ok, err := s.enqueue(ctx, &queue.Task{
			Queue:   string(name),
			AssetID: assetID,
			Kind:    queue.KindAsset,
			Force:   force,
		})
		if err != nil {
			return err
		}
		if ok {
			queued++
		}
		return nil
	})
	if err != nil {
		return queued, err
	}

	log.WithField("queued", queued).Info("backlog scan finished")
	return queued, nil
}

// FanOut enqueues dependent tasks for an asset whose attribute for name was just produced.
// A dependent is enqueued only when its feature is enabled, its queue is active and
// not paused, and the asset does not already carry its attribute.
func (s *Scheduler) FanOut(ctx context.Context, name JobName, assetID string) ([]JobName, error) {
	deps := Dependents(name)
	if len(deps) == 0 {
		return nil, nil
	}

	asset, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("load asset %s for fan-out: %w", assetID, err)
	}
	if asset == nil {
		return nil, nil
	}

	var queued []JobName
	var errs []error
	for _, dep := range deps {
		if !s.bus.features.Enabled(dep) {
			continue
		}
		state := s.bus.currentState(ctx, dep)
		if !state.IsActive || state.IsPaused {
			continue
		}
		if asset.Has(dep.Attribute()) {
			continue
		}

		ok, err := s.enqueue(ctx, &queue.Task{Queue: string(dep), AssetID: assetID, Kind: queue.KindAsset})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			queued = append(queued, dep)
		}
	}
	return queued, errors.Join(errs...)
}

// QueueNewAsset enqueues metadata extraction for a freshly uploaded asset.
// Uploads are queued ahead of backlog work and land even when the queue is paused.
func (s *Scheduler) QueueNewAsset(ctx context.Context, assetID string) error {
	_, err := s.enqueue(ctx, &queue.Task{
		Queue:    string(MetadataExtraction),
		AssetID:  assetID,
		Kind:     queue.KindAsset,
		Priority: queue.PriorityHigh,
	})
	return err
}

// enqueue adds a task and reports whether it was new. Identical waiting tasks are not an error.
func (s *Scheduler) enqueue(ctx context.Context, task *queue.Task) (bool, error) {
	err := s.store.Enqueue(ctx, task)
	if errors.Is(err, queue.ErrDuplicateTask) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue %s task for %s: %w", task.Queue, task.AssetID, err)
	}

	s.bus.events.Send(Event{
		Type:    EventEnqueued,
		Queue:   JobName(task.Queue),
		AssetID: task.AssetID,
		TaskID:  task.ID,
	})
	return true, nil
}
