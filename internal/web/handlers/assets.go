package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/sirupsen/logrus"
)

// AssetsHandler serves assets with their derived attributes.
type AssetsHandler struct {
	repo database.Repository
}

// NewAssetsHandler creates a new assets handler
func NewAssetsHandler(repo database.Repository) *AssetsHandler {
	return &AssetsHandler{repo: repo}
}

// FaceResponse is a detected face that has not been assigned to a person.
type FaceResponse struct {
	ID          int64     `json:"id"`
	BBox        []float64 `json:"boundingBox"`
	Score       float64   `json:"score"`
	ImageWidth  int       `json:"imageWidth"`
	ImageHeight int       `json:"imageHeight"`
}

// AssetResponse is an asset with the people recognised on it.
// UnassignedFaces is omitted until face detection has run.
type AssetResponse struct {
	*database.Asset
	People          []database.Person `json:"people"`
	UnassignedFaces *[]FaceResponse   `json:"unassignedFaces,omitempty"`
	Duplicates      []string          `json:"duplicates,omitempty"` // other members of the duplicate group
}

// Get returns one asset.
func (h *AssetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := uuid.Validate(id); err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset id")
		return
	}

	ctx := r.Context()
	log := logrus.WithField("asset_id", id)

	asset, err := h.repo.Assets.GetAsset(ctx, id)
	if err != nil {
		log.WithError(err).Error("failed to load asset")
		respondError(w, http.StatusInternalServerError, "failed to load asset")
		return
	}
	if asset == nil {
		respondError(w, http.StatusNotFound, "asset not found")
		return
	}

	people, err := h.repo.Faces.GetPeopleForAsset(ctx, id)
	if err != nil {
		log.WithError(err).Error("failed to load people")
		respondError(w, http.StatusInternalServerError, "failed to load people")
		return
	}
	if people == nil {
		people = []database.Person{}
	}

	resp := AssetResponse{Asset: asset, People: people}
	if asset.DuplicateID != nil {
		members, err := h.repo.Assets.GetDuplicateMembers(ctx, *asset.DuplicateID)
		if err != nil {
			log.WithError(err).Error("failed to load duplicate group")
			respondError(w, http.StatusInternalServerError, "failed to load duplicate group")
			return
		}
		for _, m := range members {
			if m != id {
				resp.Duplicates = append(resp.Duplicates, m)
			}
		}
	}
	if asset.Has(database.AttributeFaces) {
		faces, err := h.repo.Faces.GetFaces(ctx, id)
		if err != nil {
			log.WithError(err).Error("failed to load faces")
			respondError(w, http.StatusInternalServerError, "failed to load faces")
			return
		}
		unassigned := make([]FaceResponse, 0, len(faces))
		for _, f := range faces {
			if f.Assigned() {
				continue
			}
			unassigned = append(unassigned, FaceResponse{
				ID:          f.ID,
				BBox:        f.BBox,
				Score:       f.DetScore,
				ImageWidth:  f.ImageWidth,
				ImageHeight: f.ImageHeight,
			})
		}
		resp.UnassignedFaces = &unassigned
	}

	respondJSON(w, http.StatusOK, resp)
}
