package jobs

import (
	"context"
	"fmt"
	"testing"

	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/database/mock"
	"github.com/kozaktomas/photo-jobs/internal/queue"
)

type fixture struct {
	db        *mock.Store
	store     *queue.MemoryStore
	bus       *Bus
	scheduler *Scheduler
	disabled  map[JobName]bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       mock.NewStore(),
		store:    queue.NewMemoryStore(),
		disabled: make(map[JobName]bool),
	}
	gate := FeatureGateFunc(func(name JobName) bool { return !f.disabled[name] })
	f.bus = NewBus(f.store, gate, NewBroadcaster())
	f.scheduler = NewScheduler(f.db.Repository().Assets, f.store, f.bus)
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

// addAsset registers an asset carrying the given attributes.
func (f *fixture) addAsset(n int, attrs ...database.Attribute) string {
	id := fmt.Sprintf("asset-%03d", n)
	status := make(map[database.Attribute]database.AttributeStatus, len(attrs))
	for _, a := range attrs {
		status[a] = database.AttributeStatus{SourceChecksum: "c"}
	}
	f.db.AddAsset(database.Asset{ID: id, Checksum: "c", JobStatus: status})
	return id
}

func (f *fixture) counts(t *testing.T, name JobName) queue.Counts {
	t.Helper()
	c, err := f.store.Counts(context.Background(), string(name))
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	return c
}
