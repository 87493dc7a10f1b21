package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/database/mock"
	"github.com/kozaktomas/photo-jobs/internal/jobs"
	"github.com/kozaktomas/photo-jobs/internal/queue"
	"github.com/kozaktomas/photo-jobs/internal/storage"
	"github.com/kozaktomas/photo-jobs/internal/web"
)

type staticEmbedder []float32

func (s staticEmbedder) ComputeTextEmbedding(context.Context, string) ([]float32, error) {
	return s, nil
}

// setupServer runs the real API against in-memory stores without workers.
func setupServer(t *testing.T) (*Client, *queue.MemoryStore) {
	t.Helper()
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	db := mock.NewStore()
	store := queue.NewMemoryStore()
	system := config.NewSystemConfigStore(config.DefaultSystemConfig(), "")
	pipeline := jobs.NewPipeline(store, db.Repository().Assets, jobs.Registry{}, jobs.SystemFeatures(system))

	srv := web.NewServer(web.Services{
		Repo:     db.Repository(),
		Storage:  files,
		Pipeline: pipeline,
		System:   system,
		ML:       staticEmbedder{1, 0, 0},
	}, web.Options{})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	c, err := New(ts.URL)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, store
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"localhost:8080", "ftp://example.com", "://"} {
		if _, err := New(raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestClient_Jobs(t *testing.T) {
	c, _ := setupServer(t)
	ctx := context.Background()

	all, err := c.Jobs(ctx)
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	if len(all) != len(jobs.Names) {
		t.Errorf("expected %d queues, got %d", len(jobs.Names), len(all))
	}

	status, err := c.Command(ctx, jobs.SmartSearch, jobs.CommandPause, false)
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if !status.RuntimeState.IsPaused || status.Name != jobs.SmartSearch {
		t.Errorf("unexpected status %+v", status)
	}

	got, err := c.Job(ctx, jobs.SmartSearch)
	if err != nil {
		t.Fatalf("Job failed: %v", err)
	}
	if !got.RuntimeState.IsPaused {
		t.Error("pause did not stick")
	}
}

func TestClient_CommandErrors(t *testing.T) {
	c, _ := setupServer(t)

	_, err := c.Command(context.Background(), "bogus", jobs.CommandStart, false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
	if apiErr.Message != "invalid job name" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestClient_UploadAndFetch(t *testing.T) {
	c, store := setupServer(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "IMG_1.jpg")
	if err := os.WriteFile(path, []byte("not really a jpeg"), 0o600); err != nil {
		t.Fatal(err)
	}
	created := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)

	res, err := c.UploadFile(ctx, path, "bob", created)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}

	asset, err := c.Asset(ctx, res.ID)
	if err != nil {
		t.Fatalf("Asset failed: %v", err)
	}
	if asset.OwnerID != "bob" || asset.OriginalFileName != "IMG_1.jpg" || !asset.FileCreatedAt.Equal(created) {
		t.Errorf("unexpected asset %+v", asset.Asset)
	}
	if asset.People == nil || asset.UnassignedFaces != nil {
		t.Errorf("people = %v, unassigned = %v", asset.People, asset.UnassignedFaces)
	}

	counts, _ := store.Counts(ctx, string(jobs.MetadataExtraction))
	if counts.Waiting != 1 {
		t.Errorf("expected metadata task, got %+v", counts)
	}
}

func TestClient_AssetNotFound(t *testing.T) {
	c, _ := setupServer(t)
	_, err := c.Asset(context.Background(), "5b0c8d5e-0000-4000-8000-000000000000")
	if !IsNotFoundError(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestClient_SystemConfigAndSearch(t *testing.T) {
	c, _ := setupServer(t)
	ctx := context.Background()

	results, err := c.SmartSearch(ctx, "beach", 0)
	if err != nil {
		t.Fatalf("SmartSearch failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %v", results)
	}

	cfg, err := c.SystemConfig(ctx)
	if err != nil {
		t.Fatalf("SystemConfig failed: %v", err)
	}
	cfg.MachineLearning.Clip.Enabled = false
	if _, err := c.UpdateSystemConfig(ctx, cfg); err != nil {
		t.Fatalf("UpdateSystemConfig failed: %v", err)
	}

	_, err = c.SmartSearch(ctx, "beach", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "smart search is not enabled" {
		t.Errorf("expected disabled search, got %v", err)
	}
}

func TestClient_CaptureResponses(t *testing.T) {
	c, _ := setupServer(t)
	dir := t.TempDir()
	if err := c.SetCaptureDir(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Job(context.Background(), jobs.FaceDetection); err != nil {
		t.Fatal(err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "jobs_faceDetection_*.json"))
	if len(matches) != 1 {
		t.Errorf("expected one captured response, got %v", matches)
	}
}
