package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devsync-core/internal/queue"
)

// Command list bounds.
const (
	defaultCommandListLimit = 100
	maxCommandListLimit     = 1000
)

// handleEnqueueCommand accepts a new command and stores it PENDING.
// Delivery happens asynchronously; clients follow progress over the
// WebSocket "command.*" channels or by polling GET /commands/{id}.
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var req queue.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cmd, err := s.commands.Enqueue(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	claims := claimsFromContext(r.Context())
	s.logger.Info("command enqueued via API",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.CommandName,
		"subject", claims.Subject,
	)
	writeJSON(w, http.StatusAccepted, cmd)
}

// handleListCommands returns commands, newest first.
//
// Query parameters:
//   - device_id: filter by device
//   - status: comma-separated statuses (PENDING,SENT,...)
//   - limit: maximum rows (default 100, max 1000)
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := queue.Filter{
		DeviceID: q.Get("device_id"),
		Limit:    defaultCommandListLimit,
	}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := queue.Status(strings.ToUpper(strings.TrimSpace(part)))
			if !st.Valid() {
				writeStatus(w, http.StatusBadRequest, "unknown status: "+part)
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeStatus(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxCommandListLimit)
	}

	cmds, err := s.commands.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if cmds == nil {
		cmds = []queue.Command{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": cmds, "count": len(cmds)})
}

// handleGetCommand returns a single command by ID.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.commands.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleCancelCommand cancels a queued command. Cancelling a command that
// already reached a terminal status returns it unchanged.
func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.commands.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleCommandStats returns command counts per status.
func (s *Server) handleCommandStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.commands.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "total": stats.Total()})
}
