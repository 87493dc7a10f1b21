// Package handlers implements the HTTP API. Handlers only translate requests into
// repository reads and job commands; all processing happens on the job queues.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/sirupsen/logrus"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data) //nolint:errcheck // client went away
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON decodes the request body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}

// HealthCheck reports whether the database answers, with the number of stored assets.
func HealthCheck(assets database.AssetReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := assets.CountAssets(r.Context())
		if err != nil {
			logrus.WithError(err).Warn("health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"assets": n,
		})
	}
}
