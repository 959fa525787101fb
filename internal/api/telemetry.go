package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devsync-core/internal/telemetry"
)

// maxTelemetryBatch bounds readings accepted in one request.
const maxTelemetryBatch = 500

// recordTelemetryRequest is the body of POST /devices/{id}/telemetry.
type recordTelemetryRequest struct {
	Readings []telemetry.Reading `json:"readings"`
}

// handleRecordTelemetry stores readings reported for a device. The device
// ID in the path overrides any device_id in the body. The batch is all or
// nothing.
func (s *Server) handleRecordTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req recordTelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Readings) == 0 {
		writeValidationError(w, "readings must not be empty")
		return
	}
	if len(req.Readings) > maxTelemetryBatch {
		writeValidationError(w, "too many readings in one request")
		return
	}
	for i := range req.Readings {
		req.Readings[i].DeviceID = deviceID
	}

	stored, err := s.telemetry.RecordBatch(r.Context(), req.Readings)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"readings": stored, "count": len(stored)})
}

// handleQueryTelemetry returns stored readings of a device.
//
// Query parameters:
//   - sensor_type: filter by sensor
//   - since, until: RFC3339 bounds on the reading timestamp
//   - limit: maximum rows
func (s *Server) handleQueryTelemetry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := telemetry.Filter{
		DeviceID:   chi.URLParam(r, "id"),
		SensorType: q.Get("sensor_type"),
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeStatus(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeStatus(w, http.StatusBadRequest, "until must be an RFC3339 timestamp")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 {
			writeStatus(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	readings, err := s.telemetry.Query(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

// parseTimeParam parses an optional RFC3339 query value.
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
