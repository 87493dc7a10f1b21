package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/constants"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/fingerprint"
	"github.com/sirupsen/logrus"
)

// TextEmbedder turns a query into the embedding space of the stored assets.
type TextEmbedder interface {
	ComputeTextEmbedding(ctx context.Context, text string) ([]float32, error)
}

// SearchHandler handles smart search.
type SearchHandler struct {
	system     *config.SystemConfigStore
	ml         TextEmbedder
	embeddings database.EmbeddingReader
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(system *config.SystemConfigStore, ml TextEmbedder, embeddings database.EmbeddingReader) *SearchHandler {
	return &SearchHandler{system: system, ml: ml, embeddings: embeddings}
}

// SmartSearchRequest is the body of POST /search/smart.
type SmartSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SearchResult is one matching asset.
type SearchResult struct {
	AssetID  string  `json:"assetId"`
	Distance float64 `json:"distance"`
}

// Smart ranks assets by similarity to a text query.
func (h *SearchHandler) Smart(w http.ResponseWriter, r *http.Request) {
	cfg := h.system.Get()
	if !cfg.SmartSearchEnabled() {
		respondError(w, http.StatusBadRequest, "smart search is not enabled")
		return
	}

	var req SmartSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 || req.Limit > constants.DefaultSearchLimit {
		req.Limit = constants.DefaultSmartSearchLimit
	}

	ctx := r.Context()
	embedding, err := h.ml.ComputeTextEmbedding(ctx, req.Query)
	if err != nil {
		if errors.Is(err, fingerprint.ErrInferenceUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "machine learning server unavailable")
			return
		}
		logrus.WithError(err).Error("failed to embed search query")
		respondError(w, http.StatusInternalServerError, "failed to embed query")
		return
	}

	// Cosine distance is bounded by 2, so every embedding is a candidate.
	matches, distances, err := h.embeddings.FindSimilarWithDistance(ctx, embedding, req.Limit, 2)
	if err != nil {
		logrus.WithError(err).Error("smart search failed")
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	results := make([]SearchResult, len(matches))
	for i, m := range matches {
		results[i] = SearchResult{AssetID: m.AssetID, Distance: distances[i]}
	}
	respondJSON(w, http.StatusOK, results)
}
