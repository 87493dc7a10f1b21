package handlers

import (
	"context"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/fingerprint"
	"github.com/kozaktomas/photo-jobs/internal/media"
	"github.com/kozaktomas/photo-jobs/internal/storage"
	"github.com/sirupsen/logrus"
)

// generateThumbnails renders the upright preview and thumbnail and computes the thumbhash.
func (d *Deps) generateThumbnails(ctx context.Context, asset *database.Asset, checksum string, log *logrus.Entry) error {
	data, err := d.Storage.Read(ctx, asset.OriginalPath)
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}

	r, err := media.Render(data, asset.Exif.OrientationOrDefault(), d.System.Get().Image)
	if err != nil {
		return err
	}

	info := database.ThumbnailInfo{
		PreviewPath:   storage.PreviewPath(asset.OwnerID, asset.ID),
		ThumbnailPath: storage.ThumbnailPath(asset.OwnerID, asset.ID),
		Thumbhash:     r.Thumbhash,
	}
	if err := d.Storage.Write(ctx, info.PreviewPath, r.Preview); err != nil {
		return fmt.Errorf("write preview: %w", err)
	}
	if err := d.Storage.Write(ctx, info.ThumbnailPath, r.Thumbnail); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}
	if err := d.Repo.Assets.UpsertThumbnail(ctx, asset.ID, info, checksum); err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}

	fields := logrus.Fields{
		"preview":   fmt.Sprintf("%dx%d", r.PreviewWidth, r.PreviewHeight),
		"thumbnail": fmt.Sprintf("%dx%d", r.ThumbnailWidth, r.ThumbnailHeight),
	}
	// On regeneration, how far the picture moved from the previous rendition.
	if len(asset.Thumbhash) > 0 {
		if dist, err := fingerprint.ThumbhashDistance(asset.Thumbhash, r.Thumbhash); err == nil {
			fields["thumbhash_distance"] = dist
		}
	}
	log.WithFields(fields).Debug("thumbnails generated")
	return nil
}
