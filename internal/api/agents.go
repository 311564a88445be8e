package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/majorcontext/agento/internal/agent"
	"github.com/majorcontext/agento/internal/container"
	"github.com/majorcontext/agento/internal/log"
	"github.com/majorcontext/agento/internal/monitor"
	"github.com/majorcontext/agento/internal/proxy"
	"github.com/majorcontext/agento/internal/storage"
)

// agentView is the client representation of an agent. The gateway token is
// never exposed.
type agentView struct {
	*storage.Agent
	Config          map[string]any  `json:"config"`
	ContainerStatus *monitor.Status `json:"containerStatus"`
}

type providerSummary struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Label    string `json:"label"`
}

type agentDetail struct {
	agentView
	Provider *providerSummary `json:"provider"`
}

func (s *Server) view(a *storage.Agent) agentView {
	cfg := make(map[string]any, len(a.Config))
	for k, v := range a.Config {
		if k == "gatewayToken" {
			continue
		}
		cfg[k] = v
	}
	v := agentView{Agent: a, Config: cfg}
	if st, ok := s.status.Get(a.ID); ok {
		v.ContainerStatus = &st
	}
	return v
}

type createAgentRequest struct {
	Name       string `json:"name"`
	ProviderID string `json:"providerId"`
	SoulMD     string `json:"soulMd"`
	IdentityMD string `json:"identityMd"`
}

type updateAgentRequest struct {
	Name       *string `json:"name"`
	ProviderID *string `json:"providerId"`
	SoulMD     *string `json:"soulMd"`
	IdentityMD *string `json:"identityMd"`
}

type startResponse struct {
	Success     bool   `json:"success"`
	ContainerID string `json:"containerId"`
	Port        int    `json:"port"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		writeAgentError(w, err)
		return
	}
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, s.view(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createAgentRequest](w, r)
	if !ok {
		return
	}
	a, err := s.agents.Create(r.Context(), agent.CreateParams{
		Name:       req.Name,
		ProviderID: req.ProviderID,
		SoulMD:     req.SoulMD,
		IdentityMD: req.IdentityMD,
	})
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(a))
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.agents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	resp := agentDetail{agentView: s.view(a)}
	if a.ProviderID != nil {
		p, err := s.store.GetProvider(r.Context(), *a.ProviderID)
		if err == nil {
			resp.Provider = &providerSummary{ID: p.ID, Provider: p.Kind, Label: p.Label}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[updateAgentRequest](w, r)
	if !ok {
		return
	}
	a, err := s.agents.Update(r.Context(), urlParam(r, "id"), agent.Patch{
		Name:       req.Name,
		SoulMD:     req.SoulMD,
		IdentityMD: req.IdentityMD,
		ProviderID: req.ProviderID,
	})
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(a))
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := s.agents.Delete(r.Context(), id); err != nil {
		writeAgentError(w, err)
		return
	}
	if s.chat != nil {
		s.chat.Forget(id)
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.agents.Start(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, started(a))
}

func (s *Server) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.agents.Restart(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, started(a))
}

func started(a *storage.Agent) startResponse {
	resp := startResponse{Success: true}
	if a.ContainerID != nil {
		resp.ContainerID = *a.ContainerID
	}
	if a.Port != nil {
		resp.Port = *a.Port
	}
	return resp
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	if _, err := s.agents.Stop(r.Context(), urlParam(r, "id")); err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	a, err := s.agents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	st, ok := s.status.Get(a.ID)
	if !ok {
		writeError(w, http.StatusNotFound, "No status available")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[proxy.ChatRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	a, err := s.agents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	if err := s.chat.Serve(w, r, a, req); err != nil {
		writeProxyError(w, err)
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	tail := proxy.DefaultTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "tail must be a non-negative integer")
			return
		}
		tail = n
	}
	follow := true
	if v := r.URL.Query().Get("follow"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "follow must be true or false")
			return
		}
		follow = b
	}
	if !follow {
		s.handleLogSnapshot(w, r, tail)
		return
	}

	a, err := s.agents.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeAgentError(w, err)
		return
	}
	var containerID string
	if a.ContainerID != nil {
		containerID = *a.ContainerID
	}
	if err := s.logs.Serve(w, r, containerID, tail); err != nil {
		writeProxyError(w, err)
	}
}

type logSnapshot struct {
	Lines []string `json:"lines"`
}

// handleLogSnapshot answers ?follow=false with the current log tail as JSON.
// since bounds the output by time, e.g. "10m" or an RFC 3339 timestamp.
func (s *Server) handleLogSnapshot(w http.ResponseWriter, r *http.Request, tail int) {
	out, err := s.agents.Logs(r.Context(), urlParam(r, "id"), container.LogOptions{
		Tail:  tail,
		Since: r.URL.Query().Get("since"),
	})
	if err != nil {
		writeAgentError(w, err)
		return
	}
	lines := []string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	writeJSON(w, http.StatusOK, logSnapshot{Lines: lines})
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	var containerID string
	a, err := s.agents.Get(r.Context(), urlParam(r, "id"))
	switch {
	case err == nil && a.ContainerID != nil:
		containerID = *a.ContainerID
	case err != nil && !errors.Is(err, agent.ErrNotFound):
		log.Warn("loading agent for terminal", "agent_id", urlParam(r, "id"), "error", err)
	}
	s.terminal.Serve(w, r, containerID)
}
