package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/devsync-core/internal/device"
	"github.com/nerrad567/devsync-core/internal/queue"
	"github.com/nerrad567/devsync-core/internal/settings"
	"github.com/nerrad567/devsync-core/internal/syncengine"
	"github.com/nerrad567/devsync-core/internal/telemetry"
)

// Error is the JSON body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes. Clients switch on these, not on Message.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeSyncInProgress = "sync_in_progress"
)

// statusCodes is the default error code for each status writeStatus emits.
var statusCodes = map[int]string{
	http.StatusBadRequest:          ErrCodeBadRequest,
	http.StatusUnauthorized:        ErrCodeUnauthorized,
	http.StatusForbidden:           ErrCodeForbidden,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusConflict:            ErrCodeConflict,
	http.StatusInternalServerError: ErrCodeInternal,
	http.StatusServiceUnavailable:  ErrCodeUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // the client may already have gone away
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeStatus writes an error body using the default code for status.
func writeStatus(w http.ResponseWriter, status int, message string) {
	code, ok := statusCodes[status]
	if !ok {
		code = ErrCodeInternal
	}
	writeError(w, status, code, message)
}

// writeValidationError is a 400 whose code tells clients the input itself
// was rejected, as opposed to a malformed request.
func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeDomainError maps errors from the domain packages onto HTTP responses.
// Unrecognised errors are logged and reported as 500 without detail.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *queue.ValidationError
	switch {
	case errors.As(err, &validation):
		writeValidationError(w, validation.Error())
	case errors.Is(err, settings.ErrValidation), errors.Is(err, telemetry.ErrInvalidReading):
		writeValidationError(w, err.Error())

	case errors.Is(err, queue.ErrNotFound):
		writeStatus(w, http.StatusNotFound, "command not found")
	case errors.Is(err, settings.ErrNotFound):
		writeStatus(w, http.StatusNotFound, "configuration entry not found")
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, settings.ErrUnknownDevice),
		errors.Is(err, telemetry.ErrUnknownDevice):
		writeStatus(w, http.StatusNotFound, "device not found")

	case errors.Is(err, queue.ErrInvalidTransition), errors.Is(err, settings.ErrReadOnly):
		writeStatus(w, http.StatusConflict, err.Error())
	case errors.Is(err, syncengine.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, ErrCodeSyncInProgress, "a sync run is already in progress")

	default:
		s.logger.Error("request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeStatus(w, http.StatusInternalServerError, "internal server error")
	}
}
