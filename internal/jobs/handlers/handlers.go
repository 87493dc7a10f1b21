// Package handlers implements one job handler per queue. Every handler loads
// the asset, checks its upstream attribute, skips work whose source bytes are
// unchanged, derives its attribute and stores it together with the checksum
// of the bytes it was derived from.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/fingerprint"
	"github.com/kozaktomas/photo-jobs/internal/jobs"
	"github.com/kozaktomas/photo-jobs/internal/queue"
	"github.com/kozaktomas/photo-jobs/internal/storage"
	"github.com/sirupsen/logrus"
)

// Inference computes embeddings and detects faces.
type Inference interface {
	ComputeEmbedding(ctx context.Context, imageData []byte) ([]float32, error)
	DetectFaces(ctx context.Context, imageData []byte) ([]fingerprint.DetectedFace, error)
}

// Deps are the collaborators the handlers work against.
type Deps struct {
	Repo    database.Repository
	Storage storage.Storage
	ML      Inference
	System  *config.SystemConfigStore
	// Features defaults to the system config toggles.
	Features jobs.FeatureGate
}

// NewRegistry returns the handler for every job name.
func NewRegistry(d Deps) jobs.Registry {
	if d.System == nil {
		d.System = config.NewSystemConfigStore(config.DefaultSystemConfig(), "")
	}
	if d.Features == nil {
		d.Features = jobs.SystemFeatures(d.System)
	}
	deps := &d
	return jobs.Registry{
		jobs.MetadataExtraction:  guarded(jobs.MetadataExtraction, deps, deps.extractMetadata),
		jobs.ThumbnailGeneration: guarded(jobs.ThumbnailGeneration, deps, deps.generateThumbnails),
		jobs.SmartSearch:         guarded(jobs.SmartSearch, deps, deps.computeEmbedding),
		jobs.FaceDetection:       guarded(jobs.FaceDetection, deps, deps.detectFaces),
		jobs.FacialRecognition:   guarded(jobs.FacialRecognition, deps, deps.recognizeFaces),
		jobs.DuplicateDetection:  guarded(jobs.DuplicateDetection, deps, deps.detectDuplicates),
	}
}

// step derives one attribute for an asset that passed the guard. checksum is
// the sha1 of the asset's current original bytes.
type step func(ctx context.Context, asset *database.Asset, checksum string, log *logrus.Entry) error

// errAssetNotFound is reported when the task references a deleted asset.
var errAssetNotFound = errors.New("asset not found")

// guarded wraps a step with the checks every handler shares.
func guarded(name jobs.JobName, d *Deps, run step) jobs.Handler {
	attr := name.Attribute()
	requires := jobs.Requires(name)

	return jobs.HandlerFunc(func(ctx context.Context, task *queue.Task) jobs.Outcome {
		log := logrus.WithFields(logrus.Fields{"queue": name, "asset_id": task.AssetID, "task_id": task.ID})

		if !d.Features.Enabled(name) {
			return jobs.SkippedDisabled()
		}

		asset, err := d.Repo.Assets.GetAsset(ctx, task.AssetID)
		if err != nil {
			return jobs.Failed(fmt.Errorf("load asset: %w", err))
		}
		if asset == nil {
			return jobs.Failed(fmt.Errorf("%w: %s", errAssetNotFound, task.AssetID))
		}
		if !asset.HasAll(requires) {
			return jobs.SkippedDependencyUnmet()
		}

		checksum, err := d.Storage.Checksum(ctx, asset.OriginalPath)
		if err != nil {
			return jobs.Failed(fmt.Errorf("checksum original: %w", err))
		}
		if current(asset, attr, checksum) && !task.Force {
			return jobs.SkippedAlreadyCurrent()
		}

		if err := run(ctx, asset, checksum, log); err != nil {
			return jobs.Failed(err)
		}
		log.Debug("attribute derived")
		return jobs.Success()
	})
}

// current reports whether attr was derived from the bytes with this checksum.
func current(asset *database.Asset, attr database.Attribute, checksum string) bool {
	status, ok := asset.JobStatus[attr]
	return ok && status.SourceChecksum == checksum
}
