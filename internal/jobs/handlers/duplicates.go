package handlers

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/constants"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/sirupsen/logrus"
)

// detectDuplicates groups the asset with every asset whose embedding lies within
// the configured distance. Group membership is written for all members at once.
func (d *Deps) detectDuplicates(ctx context.Context, asset *database.Asset, checksum string, log *logrus.Entry) error {
	emb, err := d.Repo.Embeddings.Get(ctx, asset.ID)
	if err != nil {
		return fmt.Errorf("load embedding: %w", err)
	}
	if emb == nil {
		return fmt.Errorf("asset %s has no embedding", asset.ID)
	}

	maxDistance := d.System.Get().MachineLearning.DuplicateDetection.MaxDistance
	similar, _, err := d.Repo.Embeddings.FindSimilarWithDistance(ctx, emb.Embedding, constants.DuplicateSearchLimit, maxDistance)
	if err != nil {
		return fmt.Errorf("find similar embeddings: %w", err)
	}

	var matches []string
	for _, s := range similar {
		if s.AssetID != asset.ID {
			matches = append(matches, s.AssetID)
		}
	}

	if len(matches) == 0 {
		if err := d.Repo.Assets.ClearDuplicateGroup(ctx, asset.ID, checksum); err != nil {
			return fmt.Errorf("clear duplicate group: %w", err)
		}
		log.Debug("no duplicates")
		return nil
	}

	groupID, err := d.Repo.Assets.MergeDuplicateGroup(ctx, asset.ID, matches, checksum)
	if err != nil {
		return fmt.Errorf("merge duplicate group: %w", err)
	}
	log.WithFields(logrus.Fields{"duplicate_id": groupID, "matches": len(matches)}).Info("duplicates found")
	return nil
}
