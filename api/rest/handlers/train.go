package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"splat-orchestrator/core/models"

	"github.com/gorilla/mux"
)

// Trainer runs and controls training jobs
type Trainer interface {
	Train(ctx context.Context, key models.JobKey) (*models.JobResult, error)
	Cancel(key models.JobKey) (string, error)
	Snapshot(key models.JobKey) (models.JobSnapshot, bool)
}

// Journal lists recorded events
type Journal interface {
	ListEvents(ctx context.Context, room string, limit int) ([]models.StatusEvent, error)
}

// TrainHandler handles training HTTP requests
type TrainHandler struct {
	trainer Trainer
	journal Journal
}

// NewTrainHandler creates a new train handler. journal may be nil.
func NewTrainHandler(trainer Trainer, journal Journal) *TrainHandler {
	return &TrainHandler{trainer: trainer, journal: journal}
}

// TrainRequest is the body of POST /train
type TrainRequest struct {
	UserID      string `json:"userId"`
	ProjectName string `json:"projectName"`
}

// TrainResponse is returned when every step completed
type TrainResponse struct {
	Status      string            `json:"status"`
	Message     string            `json:"message"`
	TrainResult *models.JobResult `json:"trainResult"`
	MeshPath    string            `json:"meshPath"`
	SplatPath   string            `json:"splatPath"`
	SplatURL    string            `json:"splatUrl,omitempty"`
}

// Train handles POST /train. It blocks until the job ends.
func (h *TrainHandler) Train(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Invalid request body"})
		return
	}
	key := models.JobKey{UserID: req.UserID, ProjectName: req.ProjectName}
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}

	result, err := h.trainer.Train(r.Context(), key)
	if err != nil {
		writeError(w, "Error training model", err)
		return
	}

	writeJSON(w, http.StatusOK, TrainResponse{
		Status:      "success",
		Message:     "Training completed, mesh and splat files uploaded",
		TrainResult: result,
		MeshPath:    result.MeshPath,
		SplatPath:   result.SplatPath,
		SplatURL:    result.SplatURL,
	})
}

func jobKey(r *http.Request) models.JobKey {
	vars := mux.Vars(r)
	return models.JobKey{UserID: vars["userId"], ProjectName: vars["projectName"]}
}

// GetStatus handles GET /train/{userId}/{projectName}
func (h *TrainHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	key := jobKey(r)
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}
	snap, ok := h.trainer.Snapshot(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "No training run recorded for this project"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Cancel handles DELETE /train/{userId}/{projectName}
func (h *TrainHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.trainer.Cancel(jobKey(r))
	if err != nil {
		writeError(w, "Error cancelling training", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "cancelling",
		"jobId":  jobID,
	})
}

// GetEvents handles GET /train/{userId}/{projectName}/events
func (h *TrainHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Message: "Event journal is not configured"})
		return
	}
	key := jobKey(r)
	if err := key.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	events, err := h.journal.ListEvents(r.Context(), key.Room(), limit)
	if err != nil {
		writeError(w, "Error listing events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":   key.Room(),
		"events": events,
	})
}
