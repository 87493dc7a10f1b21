package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/database/mock"
	"github.com/kozaktomas/photo-jobs/internal/jobs"
	"github.com/kozaktomas/photo-jobs/internal/queue"
	"github.com/kozaktomas/photo-jobs/internal/storage"
)

type testEnv struct {
	db     *mock.Store
	repo   database.Repository
	queue  *queue.MemoryStore
	files  *storage.Local
	system *config.SystemConfigStore
	bus    *jobs.Bus
	sched  *jobs.Scheduler
}

// newTestEnv wires handlers against in-memory stores. No workers run, so
// enqueued tasks stay waiting and can be counted.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	db := mock.NewStore()
	store := queue.NewMemoryStore()
	system := config.NewSystemConfigStore(config.DefaultSystemConfig(), "")
	bus := jobs.NewBus(store, jobs.SystemFeatures(system), nil)

	return &testEnv{
		db:     db,
		repo:   db.Repository(),
		queue:  store,
		files:  files,
		system: system,
		bus:    bus,
		sched:  jobs.NewScheduler(db.Repository().Assets, store, bus),
	}
}

func (e *testEnv) waiting(t *testing.T, name jobs.JobName) int {
	t.Helper()
	c, err := e.queue.Counts(context.Background(), string(name))
	if err != nil {
		t.Fatal(err)
	}
	return c.Waiting
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return v
}
