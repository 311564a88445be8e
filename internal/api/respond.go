package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/majorcontext/agento/internal/agent"
	"github.com/majorcontext/agento/internal/log"
	"github.com/majorcontext/agento/internal/proxy"
	"github.com/majorcontext/agento/internal/vault"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debug("writing JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeErrorDetails(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}

// readJSON decodes a JSON request body with a size limit. An empty body
// decodes to the zero value.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(&v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return v, true
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		writeError(w, http.StatusBadRequest, "invalid request body")
	}
	return v, false
}

func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// writeAgentError maps controller and vault errors to HTTP responses.
func writeAgentError(w http.ResponseWriter, err error) {
	var rt *agent.RuntimeError
	switch {
	case errors.Is(err, agent.ErrNotFound):
		writeError(w, http.StatusNotFound, "Agent not found")
	case errors.Is(err, agent.ErrConflict):
		writeError(w, http.StatusConflict, "Agent is already running")
	case errors.Is(err, agent.ErrInvalidState):
		writeErrorDetails(w, http.StatusBadRequest,
			"Agent has no provider configured. Add an API key first.", detail(err, agent.ErrInvalidState))
	case errors.Is(err, agent.ErrNoContainer):
		writeError(w, http.StatusBadRequest, "Agent has no container")
	case errors.Is(err, agent.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, capitalize(detail(err, agent.ErrInvalidArgument)))
	case errors.Is(err, vault.ErrKeyNotFound):
		writeErrorDetails(w, http.StatusServiceUnavailable, "Master key not found", "run `agento init`")
	case errors.Is(err, vault.ErrDecrypt):
		writeError(w, http.StatusInternalServerError, "Failed to decrypt provider key")
	case errors.As(err, &rt):
		writeErrorDetails(w, http.StatusInternalServerError, "Failed to "+rt.Op, rt.Cause.Error())
	default:
		log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeProxyError maps relay setup errors to HTTP responses.
func writeProxyError(w http.ResponseWriter, err error) {
	var gw *proxy.GatewayError
	var ce *proxy.ConnectError
	switch {
	case errors.Is(err, proxy.ErrNotRunning):
		writeError(w, http.StatusBadRequest, "Agent is not running")
	case errors.Is(err, proxy.ErrNoContainer):
		writeError(w, http.StatusBadRequest, "Agent has no container")
	case errors.Is(err, proxy.ErrMissingCredential):
		writeError(w, http.StatusInternalServerError, "Agent gateway token not found")
	case errors.As(err, &gw):
		writeErrorDetails(w, gw.Status, "Gateway error", gw.Body)
	case errors.As(err, &ce):
		writeErrorDetails(w, http.StatusBadGateway, "Failed to connect to agent", ce.Err.Error())
	default:
		log.Error("opening stream", "error", err)
		writeErrorDetails(w, http.StatusInternalServerError, "Failed to open stream", err.Error())
	}
}

// detail strips the sentinel prefix from a wrapped error message.
func detail(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
