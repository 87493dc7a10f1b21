package handlers

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/media"
	"github.com/sirupsen/logrus"
)

// extractMetadata reads the EXIF block of the original. The original is only read.
func (d *Deps) extractMetadata(ctx context.Context, asset *database.Asset, checksum string, log *logrus.Entry) error {
	data, err := d.Storage.Read(ctx, asset.OriginalPath)
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}

	exif := media.ExtractExif(data)
	if err := d.Repo.Assets.UpsertExif(ctx, asset.ID, exif, checksum); err != nil {
		return fmt.Errorf("save exif: %w", err)
	}

	log.WithField("orientation", exif.OrientationOrDefault()).Debug("metadata extracted")
	return nil
}
