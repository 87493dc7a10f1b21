package handlers

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/sirupsen/logrus"
)

// computeEmbedding stores the CLIP embedding of the preview rendition.
func (d *Deps) computeEmbedding(ctx context.Context, asset *database.Asset, checksum string, log *logrus.Entry) error {
	preview, err := d.readPreview(ctx, asset)
	if err != nil {
		return err
	}

	embedding, err := d.ML.ComputeEmbedding(ctx, preview)
	if err != nil {
		return fmt.Errorf("compute embedding: %w", err)
	}

	model := d.System.Get().MachineLearning.Clip.ModelName
	if err := d.Repo.Embeddings.Save(ctx, asset.ID, embedding, model, checksum); err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}

	log.WithField("dim", len(embedding)).Debug("embedding computed")
	return nil
}

// readPreview loads the preview rendition the ML models work on.
func (d *Deps) readPreview(ctx context.Context, asset *database.Asset) ([]byte, error) {
	if asset.PreviewPath == "" {
		return nil, fmt.Errorf("asset %s has no preview", asset.ID)
	}
	data, err := d.Storage.Read(ctx, asset.PreviewPath)
	if err != nil {
		return nil, fmt.Errorf("read preview: %w", err)
	}
	return data, nil
}
