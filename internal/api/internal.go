package api

import (
	"errors"
	"net/http"

	"github.com/majorcontext/agento/internal/log"
	"github.com/majorcontext/agento/internal/storage"
)

type credentialEvent struct {
	Event     string         `json:"event"`
	Profiles  map[string]any `json:"profiles,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

type credentialResponse struct {
	Success bool   `json:"success"`
	AgentID string `json:"agentId"`
}

// handleCredentials acknowledges a credential callback from an agent
// container. The caller is identified by its gateway token.
func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Missing authorization token")
		return
	}
	if !s.callbacks.Allow(token) {
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	a, err := s.store.FindAgentByGatewayToken(r.Context(), token)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusForbidden, "Invalid token")
		return
	}
	if err != nil {
		writeAgentError(w, err)
		return
	}

	ev, ok := readJSON[credentialEvent](w, r)
	if !ok {
		return
	}
	log.Info("credential callback received",
		"agent_id", a.ID,
		"event", ev.Event,
		"profiles", len(ev.Profiles),
	)
	writeJSON(w, http.StatusOK, credentialResponse{Success: true, AgentID: a.ID})
}
