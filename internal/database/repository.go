package database

import (
	"context"
)

// AssetReader provides read-only access to assets and their derived attributes
type AssetReader interface {
	// GetAsset retrieves an asset with its exif row and job status, returns nil if not found
	GetAsset(ctx context.Context, id string) (*Asset, error)
	// ListAssetIDs returns asset ids greater than after in stable id order
	ListAssetIDs(ctx context.Context, after string, limit int) ([]string, error)
	// GetAssetsMissingAttribute returns ids (greater than after, in stable id order) of assets
	// lacking attr but carrying every attribute in requires
	GetAssetsMissingAttribute(ctx context.Context, attr Attribute, requires []Attribute, after string, limit int) ([]string, error)
	// CountAssets returns the total number of assets
	CountAssets(ctx context.Context) (int, error)
	// GetDuplicateMembers returns the ids of all assets sharing the duplicate id
	GetDuplicateMembers(ctx context.Context, duplicateID string) ([]string, error)
}

// AssetWriter provides write access to assets.
// Every attribute write stores the value and its asset_job_status row in one transaction.
type AssetWriter interface {
	AssetReader

	// CreateAsset inserts a new asset together with an empty exif row
	CreateAsset(ctx context.Context, asset *Asset) error
	// UpsertExif replaces the exif row and marks the metadata attribute
	UpsertExif(ctx context.Context, assetID string, exif ExifInfo, sourceChecksum string) error
	// UpsertThumbnail stores rendition paths and thumbhash and marks the thumbnail attribute
	UpsertThumbnail(ctx context.Context, assetID string, thumb ThumbnailInfo, sourceChecksum string) error
	// MergeDuplicateGroup puts assetID, matches and every asset already grouped with any of them
	// under one duplicate id, marks the duplicates attribute on assetID and returns the id
	MergeDuplicateGroup(ctx context.Context, assetID string, matches []string, sourceChecksum string) (string, error)
	// ClearDuplicateGroup removes assetID from its duplicate group and marks the duplicates attribute
	ClearDuplicateGroup(ctx context.Context, assetID string, sourceChecksum string) error
}

// EmbeddingReader provides read-only access to smart search embeddings
type EmbeddingReader interface {
	// Get retrieves an embedding by asset id, returns nil if not found
	Get(ctx context.Context, assetID string) (*StoredEmbedding, error)
	// Has checks if an embedding exists for the given asset id
	Has(ctx context.Context, assetID string) (bool, error)
	// Count returns the total number of embeddings stored
	Count(ctx context.Context) (int, error)
	// FindSimilarWithDistance finds embeddings closer than maxDistance, nearest first
	FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]StoredEmbedding, []float64, error)
}

// EmbeddingWriter provides write access to smart search embeddings
type EmbeddingWriter interface {
	EmbeddingReader

	// Save upserts the embedding and marks the embedding attribute
	Save(ctx context.Context, assetID string, embedding []float32, model string, sourceChecksum string) error
}

// FaceReader provides read-only access to faces and people
type FaceReader interface {
	// GetFaces retrieves all faces for an asset ordered by face index
	GetFaces(ctx context.Context, assetID string) ([]StoredFace, error)
	// Count returns the total number of faces stored
	Count(ctx context.Context) (int, error)
	// FindSimilarWithDistance finds faces closer than maxDistance across all assets, nearest first
	FindSimilarWithDistance(ctx context.Context, embedding []float32, limit int, maxDistance float64) ([]StoredFace, []float64, error)
	// GetPeopleForAsset returns the people recognised on an asset
	GetPeopleForAsset(ctx context.Context, assetID string) ([]Person, error)
	// ListPeople returns every person with their face count
	ListPeople(ctx context.Context) ([]Person, error)
}

// FaceWriter provides write access to faces and people
type FaceWriter interface {
	FaceReader

	// ReplaceFaces replaces all faces of an asset and marks the faces attribute.
	// Returns the stored faces with their ids.
	ReplaceFaces(ctx context.Context, assetID string, faces []StoredFace, sourceChecksum string) ([]StoredFace, error)
	// AssignFaces creates newPeople, applies assignments and marks the people attribute
	AssignFaces(ctx context.Context, assetID string, newPeople []Person, assignments []FaceAssignment, sourceChecksum string) error
}

// Repository bundles the stores the job handlers and API work against.
type Repository struct {
	Assets     AssetWriter
	Embeddings EmbeddingWriter
	Faces      FaceWriter
}
