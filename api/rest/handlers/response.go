package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"splat-orchestrator/core/executor"
	"splat-orchestrator/core/models"
	"splat-orchestrator/core/pipeline"
	rm "splat-orchestrator/core/resource_manager"
	"splat-orchestrator/storage"

	"github.com/rs/zerolog/log"
)

// httpStatuser is implemented by provider errors that carry an upstream status
type httpStatuser interface {
	HTTPStatus() int
}

// statusCoder is implemented by AWS SDK response errors
type statusCoder interface {
	HTTPStatusCode() int
}

// detailer is implemented by provider errors that carry an upstream body
type detailer interface {
	Detail() string
}

// ErrorDetail describes a failure in a response body
type ErrorDetail struct {
	Status     int         `json:"status"`
	StatusText string      `json:"statusText"`
	Details    interface{} `json:"details,omitempty"`
	Message    string      `json:"message"`
}

// ErrorResponse is the body of a failed request
type ErrorResponse struct {
	Message        string       `json:"message"`
	Error          *ErrorDetail `json:"error,omitempty"`
	InstanceStatus string       `json:"instance_status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

// statusOf maps an error to the HTTP status it is reported with
func statusOf(err error) int {
	var upstream httpStatuser
	var sdkErr statusCoder
	var timeout *rm.ProvisioningTimeoutError
	switch {
	case errors.Is(err, models.ErrInvalidJobKey):
		return http.StatusBadRequest
	case errors.Is(err, rm.ErrNoActiveInstance),
		errors.Is(err, storage.ErrDatasetMissing),
		errors.Is(err, pipeline.ErrNoJob):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrJobInProgress):
		return http.StatusConflict
	case errors.Is(err, rm.ErrNoCapacity):
		return http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &upstream) && upstream.HTTPStatus() >= 400:
		return upstream.HTTPStatus()
	case errors.As(err, &sdkErr) && sdkErr.HTTPStatusCode() >= 400:
		return sdkErr.HTTPStatusCode()
	default:
		return http.StatusInternalServerError
	}
}

// newErrorDetail describes err, including upstream bodies and command stderr
func newErrorDetail(err error) (int, *ErrorDetail) {
	status := statusOf(err)
	detail := &ErrorDetail{
		Status:     status,
		StatusText: http.StatusText(status),
		Message:    err.Error(),
	}

	var d detailer
	var cmdErr *executor.CommandError
	switch {
	case errors.As(err, &d):
		body := strings.TrimSpace(d.Detail())
		if json.Valid([]byte(body)) {
			detail.Details = json.RawMessage(body)
		} else if body != "" {
			detail.Details = body
		}
	case errors.As(err, &cmdErr):
		detail.Details = map[string]interface{}{
			"stderr":      cmdErr.Result.Stderr,
			"exit_status": cmdErr.Result.ExitStatus,
		}
	}
	return status, detail
}

// writeError writes message with a description of err
func writeError(w http.ResponseWriter, message string, err error) {
	status, detail := newErrorDetail(err)
	writeErrorStatus(w, status, ErrorResponse{Message: message, Error: detail}, err)
}

func writeErrorStatus(w http.ResponseWriter, status int, body ErrorResponse, err error) {
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg(body.Message)
	} else {
		log.Warn().Err(err).Int("status", status).Msg(body.Message)
	}
	writeJSON(w, status, body)
}
