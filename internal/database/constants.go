package database

// Vector dimensions of the pgvector columns.
const (
	// EmbeddingDim is the CLIP image/text embedding dimension (ViT-B-32)
	EmbeddingDim = 512

	// FaceEmbeddingDim is the face embedding dimension (buffalo_l/ResNet100)
	FaceEmbeddingDim = 512
)

// HNSW index parameters for 512-dim embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after distance filtering.
	HNSWSearchMultiplier = 3

	// HNSWMinSearch is the minimum candidate count requested from HNSW.
	HNSWMinSearch = 100
)
