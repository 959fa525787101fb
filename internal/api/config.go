package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devsync-core/internal/settings"
)

// setConfigRequest is the body of PUT /devices/{id}/config/{key}.
type setConfigRequest struct {
	Value    string            `json:"value"`
	DataType settings.DataType `json:"data_type,omitempty"`
	Category string            `json:"category,omitempty"`
}

// handleListConfig returns every configuration entry of a device.
func (s *Server) handleListConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := s.settings.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []settings.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"configurations": entries, "count": len(entries)})
}

// handleGetConfig returns one configuration entry.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	entry, err := s.settings.Get(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "key"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleSetConfig records a local edit. The entry is PENDING until the
// next sync pushes it.
func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req setConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entry, err := s.settings.Set(r.Context(), settings.SetRequest{
		DeviceID:    chi.URLParam(r, "id"),
		ConfigKey:   chi.URLParam(r, "key"),
		ConfigValue: req.Value,
		DataType:    req.DataType,
		Category:    req.Category,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
