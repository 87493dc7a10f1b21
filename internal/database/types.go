package database

import (
	"fmt"
	"time"
)

// Attribute names a derived value computed for an asset by exactly one job.
type Attribute string

const (
	AttributeMetadata   Attribute = "metadata"
	AttributeThumbnail  Attribute = "thumbnail"
	AttributeEmbedding  Attribute = "embedding"
	AttributeFaces      Attribute = "faces"
	AttributePeople     Attribute = "people"
	AttributeDuplicates Attribute = "duplicates"
)

// Attributes lists every derived attribute.
var Attributes = []Attribute{
	AttributeMetadata,
	AttributeThumbnail,
	AttributeEmbedding,
	AttributeFaces,
	AttributePeople,
	AttributeDuplicates,
}

// ParseAttribute validates an attribute name.
func ParseAttribute(s string) (Attribute, error) {
	for _, a := range Attributes {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown attribute %q", s)
}

// AssetType distinguishes images from videos.
type AssetType string

const (
	AssetTypeImage AssetType = "IMAGE"
	AssetTypeVideo AssetType = "VIDEO"
)

// AttributeStatus records when an attribute was derived and from which source bytes.
type AttributeStatus struct {
	SourceChecksum string    `json:"sourceChecksum"`
	ComputedAt     time.Time `json:"computedAt"`
}

// Asset is a stored photo or video with its derived attributes.
type Asset struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	OriginalPath     string    `json:"originalPath"`
	OriginalFileName string    `json:"originalFileName"`
	Checksum         string    `json:"checksum"` // sha1 hex of the bytes at upload time
	Type             AssetType `json:"type"`
	FileCreatedAt    time.Time `json:"fileCreatedAt"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`

	// Exif is created empty at upload and filled by metadata extraction.
	Exif          *ExifInfo `json:"exifInfo,omitempty"`
	Thumbhash     []byte    `json:"thumbhash,omitempty"`
	PreviewPath   string    `json:"previewPath,omitempty"`
	ThumbnailPath string    `json:"thumbnailPath,omitempty"`
	DuplicateID   *string   `json:"duplicateId"`

	JobStatus map[Attribute]AttributeStatus `json:"jobStatus"`
}

// Has reports whether the attribute has been derived for the asset.
func (a *Asset) Has(attr Attribute) bool {
	_, ok := a.JobStatus[attr]
	return ok
}

// HasAll reports whether every attribute in attrs has been derived.
func (a *Asset) HasAll(attrs []Attribute) bool {
	for _, attr := range attrs {
		if !a.Has(attr) {
			return false
		}
	}
	return true
}

// ExifInfo holds the embedded metadata of an asset. Nil fields were not present in the file.
type ExifInfo struct {
	Make             *string    `json:"make"`
	Model            *string    `json:"model"`
	LensModel        *string    `json:"lensModel"`
	Orientation      *int       `json:"orientation"`
	DateTimeOriginal *time.Time `json:"dateTimeOriginal"`
	Latitude         *float64   `json:"latitude"`
	Longitude        *float64   `json:"longitude"`
	ExposureTime     *string    `json:"exposureTime"`
	FNumber          *float64   `json:"fNumber"`
	FocalLength      *float64   `json:"focalLength"`
	ISO              *int       `json:"iso"`
	ExifImageWidth   *int       `json:"exifImageWidth"`
	ExifImageHeight  *int       `json:"exifImageHeight"`
	FileSizeInByte   *int64     `json:"fileSizeInByte"`
}

// OrientationOrDefault returns the EXIF orientation, 1 when unknown or out of range.
func (e *ExifInfo) OrientationOrDefault() int {
	if e == nil || e.Orientation == nil || *e.Orientation < 1 || *e.Orientation > 8 {
		return 1
	}
	return *e.Orientation
}

// ThumbnailInfo is the output of thumbnail generation.
type ThumbnailInfo struct {
	PreviewPath   string
	ThumbnailPath string
	Thumbhash     []byte
}

// StoredEmbedding represents an embedding stored in the database
type StoredEmbedding struct {
	AssetID   string
	Embedding []float32
	Model     string
	Dim       int
	CreatedAt time.Time
}

// StoredFace represents a detected face stored in the database
type StoredFace struct {
	ID          int64
	AssetID     string
	FaceIndex   int
	Embedding   []float32
	BBox        []float64 // [x1, y1, x2, y2] in pixels of the preview the detector saw
	DetScore    float64
	Model       string
	ImageWidth  int
	ImageHeight int
	PersonID    string // empty while unassigned
	CreatedAt   time.Time
}

// Assigned reports whether the face belongs to a person.
func (f *StoredFace) Assigned() bool {
	return f.PersonID != ""
}

// Person is a cluster of faces recognised as the same individual.
type Person struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FaceCount int       `json:"faceCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// FaceAssignment links a face to a person.
type FaceAssignment struct {
	FaceID   int64
	PersonID string
}
