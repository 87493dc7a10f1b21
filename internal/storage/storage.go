// Package storage stores original asset bytes and generated renditions.
package storage

import (
	"context"
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/photo-jobs/internal/config"
)

// ErrNotFound is returned when a path does not exist.
var ErrNotFound = errors.New("file not found")

// Storage reads and writes files by slash-separated relative path.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	// Checksum returns the sha1 hex digest of the current bytes at path.
	Checksum(ctx context.Context, path string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string) error
}

// Checksum returns the sha1 hex digest of data.
func Checksum(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

// New creates the storage backend selected in the configuration.
func New(ctx context.Context, cfg *config.StorageConfig) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "local":
		return NewLocal(cfg.Root)
	case "minio":
		return NewMinIO(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// OriginalPath returns the storage path of an uploaded original.
func OriginalPath(ownerID, assetID, fileName string) string {
	ext := ""
	if i := strings.LastIndex(fileName, "."); i >= 0 {
		ext = strings.ToLower(fileName[i:])
	}
	return fmt.Sprintf("upload/%s/%s/%s/%s%s", ownerID, assetID[:2], assetID[2:4], assetID, ext)
}

// PreviewPath returns the storage path of an asset's preview rendition.
func PreviewPath(ownerID, assetID string) string {
	return fmt.Sprintf("thumbs/%s/%s/%s/%s-preview.jpeg", ownerID, assetID[:2], assetID[2:4], assetID)
}

// ThumbnailPath returns the storage path of an asset's thumbnail rendition.
func ThumbnailPath(ownerID, assetID string) string {
	return fmt.Sprintf("thumbs/%s/%s/%s/%s-thumbnail.jpeg", ownerID, assetID[:2], assetID[2:4], assetID)
}
