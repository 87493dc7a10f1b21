package handlers

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-jobs/internal/constants"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/storage"
	"github.com/sirupsen/logrus"
)

// defaultOwnerID is used when the upload does not name an owner.
const defaultOwnerID = "default"

// NewAssetQueuer enqueues processing for a freshly stored asset.
type NewAssetQueuer interface {
	QueueNewAsset(ctx context.Context, assetID string) error
}

// UploadHandler stores uploaded originals and queues their metadata extraction.
type UploadHandler struct {
	assets  database.AssetWriter
	storage storage.Storage
	queuer  NewAssetQueuer
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(assets database.AssetWriter, store storage.Storage, queuer NewAssetQueuer) *UploadHandler {
	return &UploadHandler{
		assets:  assets,
		storage: store,
		queuer:  queuer,
	}
}

// UploadResponse is returned for a stored upload.
type UploadResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Upload handles a multipart upload with the file in the "assetData" field.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("assetData")
	if err != nil {
		respondError(w, http.StatusBadRequest, "assetData file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty upload")
		return
	}

	ownerID := strings.TrimSpace(r.FormValue("ownerId"))
	if ownerID == "" {
		ownerID = defaultOwnerID
	}
	fileName := filepath.Base(header.Filename)

	id := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{"asset_id": id, "file": sanitizeForLog(fileName)})

	asset := &database.Asset{
		ID:               id,
		OwnerID:          ownerID,
		OriginalPath:     storage.OriginalPath(ownerID, id, fileName),
		OriginalFileName: fileName,
		Checksum:         storage.Checksum(data),
		Type:             assetType(data),
		FileCreatedAt:    fileCreatedAt(r),
	}

	ctx := r.Context()
	if err := h.storage.Write(ctx, asset.OriginalPath, data); err != nil {
		log.WithError(err).Error("failed to store original")
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	if err := h.assets.CreateAsset(ctx, asset); err != nil {
		log.WithError(err).Error("failed to create asset")
		_ = h.storage.Remove(ctx, asset.OriginalPath)
		respondError(w, http.StatusInternalServerError, "failed to create asset")
		return
	}

	// The asset exists either way; a later metadata backlog scan picks it up.
	if err := h.queuer.QueueNewAsset(ctx, id); err != nil {
		log.WithError(err).Warn("failed to queue metadata extraction")
	}

	log.WithField("bytes", len(data)).Info("asset uploaded")
	respondJSON(w, http.StatusCreated, UploadResponse{ID: id, Status: "created"})
}

func assetType(data []byte) database.AssetType {
	if strings.HasPrefix(http.DetectContentType(data), "video/") {
		return database.AssetTypeVideo
	}
	return database.AssetTypeImage
}

// fileCreatedAt reads the optional RFC 3339 "fileCreatedAt" form value.
func fileCreatedAt(r *http.Request) time.Time {
	if v := r.FormValue("fileCreatedAt"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Now()
}
