package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/majorcontext/agento/internal/id"
	"github.com/majorcontext/agento/internal/log"
	"github.com/majorcontext/agento/internal/provider"
	"github.com/majorcontext/agento/internal/storage"
)

type createProviderRequest struct {
	Provider string `json:"provider"`
	Label    string `json:"label"`
	APIKey   string `json:"apiKey"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviders(r.Context())
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createProviderRequest](w, r)
	if !ok {
		return
	}
	if req.Provider == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "Provider and apiKey are required")
		return
	}
	if !provider.Valid(req.Provider) {
		writeError(w, http.StatusBadRequest,
			"Invalid provider. Must be one of: "+strings.Join(provider.Kinds(), ", "))
		return
	}

	sealed, err := s.vault.Encrypt(req.APIKey)
	if err != nil {
		writeAgentError(w, err)
		return
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = req.Provider
	}
	p := &storage.Provider{
		ID:           id.New(),
		Kind:         req.Provider,
		Label:        label,
		KeyPreview:   provider.KeyPreview(req.APIKey),
		EncryptedKey: sealed,
		AuthType:     provider.AuthTypeAPIKey,
	}
	if err := s.store.CreateProvider(r.Context(), p); err != nil {
		writeAgentError(w, err)
		return
	}
	log.Info("provider created", "provider_id", p.ID, "kind", p.Kind)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteProvider(r.Context(), urlParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Provider not found")
		return
	}
	if err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
