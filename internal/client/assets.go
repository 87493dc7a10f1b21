package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kozaktomas/photo-jobs/internal/database"
)

// UploadResult identifies a stored upload.
type UploadResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Face is a detected face without a person.
type Face struct {
	ID          int64     `json:"id"`
	BBox        []float64 `json:"boundingBox"`
	Score       float64   `json:"score"`
	ImageWidth  int       `json:"imageWidth"`
	ImageHeight int       `json:"imageHeight"`
}

// Asset is an asset as served by GET /assets/{id}.
type Asset struct {
	database.Asset
	People          []database.Person `json:"people"`
	UnassignedFaces *[]Face           `json:"unassignedFaces,omitempty"`
}

// UploadFile uploads a single file. fileCreatedAt is sent when non-zero.
func (c *Client) UploadFile(ctx context.Context, filePath, ownerID string, fileCreatedAt time.Time) (*UploadResult, error) {
	file, err := os.Open(filePath) //nolint:gosec // user-provided file path for upload
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("assetData", filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("could not copy file data: %w", err)
	}
	if ownerID != "" {
		if err := writer.WriteField("ownerId", ownerID); err != nil {
			return nil, fmt.Errorf("could not write owner: %w", err)
		}
	}
	if !fileCreatedAt.IsZero() {
		if err := writer.WriteField("fileCreatedAt", fileCreatedAt.Format(time.RFC3339)); err != nil {
			return nil, fmt.Errorf("could not write file date: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolveURL("assets"), &body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return do[UploadResult](c, req, "assets", http.StatusCreated)
}

// Asset returns one asset with its derived attributes.
func (c *Client) Asset(ctx context.Context, id string) (*Asset, error) {
	return doGetJSON[Asset](ctx, c, "assets/"+id)
}
