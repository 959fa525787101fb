package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/devsync-core/internal/queue"
	"github.com/nerrad567/devsync-core/internal/settings"
	"github.com/nerrad567/devsync-core/internal/syncengine"
	"github.com/nerrad567/devsync-core/internal/telemetry"
)

// syncStatusResponse aggregates the engine state with the local backlog
// still waiting for the backend.
type syncStatusResponse struct {
	Enabled       bool               `json:"enabled"`
	Running       bool               `json:"running"`
	LastResult    *syncengine.Result `json:"last_result,omitempty"`
	Telemetry     telemetry.Counts   `json:"telemetry"`
	Configuration settings.Counts    `json:"configuration"`
	Commands      queue.Stats        `json:"commands"`
}

// handleTriggerSync starts a sync cycle.
//
// By default the cycle runs in the background and the response is 202.
// With ?wait=true the handler runs the cycle within the request and
// returns its Result. Either way a cycle already in flight yields 409.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeStatus(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")) //nolint:errcheck // absent or invalid means async
	if wait {
		result, err := s.sync.Run(r.Context())
		if errors.Is(err, syncengine.ErrAlreadyRunning) {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if !s.sync.TriggerAsync(s.baseCtx) {
		s.writeDomainError(w, r, syncengine.ErrAlreadyRunning)
		return
	}
	s.logger.Info("sync triggered via API", "subject", claimsFromContext(r.Context()).Subject)
	writeJSON(w, http.StatusAccepted, map[string]any{"started": true})
}

// handleSyncStatus returns the engine status and pending counts per entity.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := syncStatusResponse{Enabled: s.sync != nil}
	if s.sync != nil {
		st := s.sync.Status()
		resp.Running = st.Running
		resp.LastResult = st.LastResult
	}

	var err error
	if resp.Telemetry, err = s.telemetry.Counts(ctx); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if resp.Configuration, err = s.settings.Counts(ctx); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if resp.Commands, err = s.commands.Stats(ctx); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
