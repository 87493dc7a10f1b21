// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Pagination constants
const (
	// DefaultPageSize is the number of asset ids fetched per page during backlog enumeration
	DefaultPageSize = 1000

	// DefaultSearchLimit is the default limit for nearest-neighbour queries
	DefaultSearchLimit = 100
)

// Face clustering constants
const (
	// DefaultFaceDistanceThreshold is the default maximum cosine distance for two faces
	// to be considered the same person. Lower values = stricter matching
	DefaultFaceDistanceThreshold = 0.5

	// DefaultMinFaces is the default minimum cluster size before a person is created
	DefaultMinFaces = 3

	// DefaultFaceMinScore is the default minimum detector score for a face to be kept
	DefaultFaceMinScore = 0.7

	// FaceOverlapIoU is the overlap above which two detections are treated as the same face
	FaceOverlapIoU = 0.5
)

// Duplicate detection constants
const (
	// DefaultDuplicateThreshold is the default max cosine distance for duplicate detection
	DefaultDuplicateThreshold = 0.01

	// DuplicateSearchLimit caps the neighbours considered per asset
	DuplicateSearchLimit = 50
)

// Image rendering constants
const (
	// DefaultPreviewSize is the longest edge of the preview rendition in pixels
	DefaultPreviewSize = 1440

	// DefaultThumbnailSize is the longest edge of the thumbnail rendition in pixels
	DefaultThumbnailSize = 250

	// DefaultJPEGQuality is the JPEG quality for generated renditions
	DefaultJPEGQuality = 80
)

// Queue constants
const (
	// DefaultDrainPollInterval is how often the progress observer polls queue counts
	DefaultDrainPollInterval = 250 * time.Millisecond

	// DefaultDrainTimeout is used when a caller waits for a drain without a timeout
	DefaultDrainTimeout = 30 * time.Second

	// CompletedRetention is how long asynq keeps completed task records around
	CompletedRetention = 24 * time.Hour

	// ShutdownTimeout bounds how long workers get to finish in-flight tasks
	ShutdownTimeout = 30 * time.Second
)
