package handlers

import (
	"context"
	"net/http"

	"splat-orchestrator/core/models"
	rm "splat-orchestrator/core/resource_manager"

	"github.com/rs/zerolog/log"
)

// InstanceService starts, stops and checks the job instance
type InstanceService interface {
	Start(ctx context.Context) (*rm.StartResult, error)
	Stop(ctx context.Context) (*models.TerminatedInstance, error)
	Check(ctx context.Context) (*models.Instance, rm.CheckStatus, error)
}

// InstanceHandler handles instance lifecycle HTTP requests
type InstanceHandler struct {
	service InstanceService
}

// NewInstanceHandler creates a new instance handler
func NewInstanceHandler(service InstanceService) *InstanceHandler {
	return &InstanceHandler{service: service}
}

// StartInstanceResponse is returned once an instance is running
type StartInstanceResponse struct {
	InstanceID     string `json:"instanceId"`
	InstanceIP     string `json:"instanceIP"`
	InstanceType   string `json:"instanceType"`
	Region         string `json:"region"`
	InstanceStatus string `json:"instance_status"`
}

// StartInstance handles POST /start_instance
func (h *InstanceHandler) StartInstance(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Start(r.Context())
	if err != nil {
		status, detail := newErrorDetail(err)
		writeErrorStatus(w, status, ErrorResponse{
			Message:        "Error launching instance or retrieving IP",
			Error:          detail,
			InstanceStatus: "fail",
		}, err)
		return
	}

	state := "existing"
	if res.Launched {
		state = "launched"
	}
	writeJSON(w, http.StatusOK, StartInstanceResponse{
		InstanceID:     res.Instance.ID,
		InstanceIP:     res.Instance.IP,
		InstanceType:   res.Instance.InstanceType,
		Region:         res.Instance.Region,
		InstanceStatus: state,
	})
}

// StopInstance handles POST /stop_instance
func (h *InstanceHandler) StopInstance(w http.ResponseWriter, r *http.Request) {
	terminated, err := h.service.Stop(r.Context())
	if err != nil {
		writeError(w, "Error stopping instance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instanceId":          terminated.ID,
		"terminated_instance": terminated,
	})
}

// CheckInstance handles GET /check_instance
func (h *InstanceHandler) CheckInstance(w http.ResponseWriter, r *http.Request) {
	inst, status, err := h.service.Check(r.Context())
	if err != nil {
		_, detail := newErrorDetail(err)
		log.Error().Err(err).Msg("Error checking instance")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Error checking instance",
			"error":   detail,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instance": inst,
		"status":   status,
	})
}
