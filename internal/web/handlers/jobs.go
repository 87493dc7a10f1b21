package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/photo-jobs/internal/jobs"
	"github.com/sirupsen/logrus"
)

// JobsHandler exposes queue status and administrative commands.
type JobsHandler struct {
	bus *jobs.Bus
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(bus *jobs.Bus) *JobsHandler {
	return &JobsHandler{bus: bus}
}

// JobCommandRequest is the body of PUT /jobs/{name}.
type JobCommandRequest struct {
	Command string `json:"command"`
	Force   bool   `json:"force"`
}

// List returns the status of every queue keyed by job name.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.bus.StatusAll(r.Context())
	if err != nil {
		logrus.WithError(err).Error("failed to read queue status")
		respondError(w, http.StatusInternalServerError, "failed to read queue status")
		return
	}
	respondJSON(w, http.StatusOK, all)
}

// Get returns the status of one queue.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	name, ok := parseJobName(w, r)
	if !ok {
		return
	}

	status, err := h.bus.Status(r.Context(), name)
	if err != nil {
		logrus.WithError(err).WithField("queue", name).Error("failed to read queue status")
		respondError(w, http.StatusInternalServerError, "failed to read queue status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Command applies an administrative command to one queue.
func (h *JobsHandler) Command(w http.ResponseWriter, r *http.Request) {
	name, ok := parseJobName(w, r)
	if !ok {
		return
	}

	var req JobCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	command, err := jobs.ParseJobCommand(req.Command)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job command")
		return
	}

	status, err := h.bus.IssueCommand(r.Context(), name, command, req.Force)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidJobName) || errors.Is(err, jobs.ErrInvalidJobCommand) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logrus.WithError(err).WithFields(logrus.Fields{"queue": name, "command": command}).Error("job command failed")
		respondError(w, http.StatusInternalServerError, "job command failed")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Events streams pipeline events as server-sent events.
func (h *JobsHandler) Events(w http.ResponseWriter, r *http.Request) {
	all, err := h.bus.StatusAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read queue status")
		return
	}
	streamEvents(w, r, h.bus.Events(), all)
}

func parseJobName(w http.ResponseWriter, r *http.Request) (jobs.JobName, bool) {
	name, err := jobs.ParseJobName(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job name")
		return "", false
	}
	return name, true
}
