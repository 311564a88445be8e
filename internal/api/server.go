// Package api serves agento's HTTP surface.
//
// Management routes require the API secret as a bearer token. Routes under
// /internal are called by agent containers and authenticate with the
// per-start gateway token instead. /health is open.
package api

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/majorcontext/agento/internal/agent"
	"github.com/majorcontext/agento/internal/monitor"
	"github.com/majorcontext/agento/internal/proxy"
	"github.com/majorcontext/agento/internal/storage"
)

// Sealer encrypts provider keys before they are stored.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

// Options wires the server to its collaborators.
type Options struct {
	Store      *storage.Store
	Controller *agent.Controller
	Vault      Sealer
	Status     *monitor.Cache
	Chat       *proxy.Chat
	Logs       *proxy.Logs
	Terminal   *proxy.Terminal

	// APISecret authenticates management routes.
	APISecret string
	// AllowedOrigins are the dashboard origins allowed by CORS.
	AllowedOrigins []string
	// CallbackRate is the sustained credential callbacks per second per token.
	CallbackRate float64
}

// Server holds the HTTP handlers.
type Server struct {
	store     *storage.Store
	agents    *agent.Controller
	vault     Sealer
	status    *monitor.Cache
	chat      *proxy.Chat
	logs      *proxy.Logs
	terminal  *proxy.Terminal
	callbacks *tokenLimiter
	startedAt time.Time
	handler   http.Handler
}

// New builds the server and its router.
func New(opts Options) *Server {
	s := &Server{
		store:     opts.Store,
		agents:    opts.Controller,
		vault:     opts.Vault,
		status:    opts.Status,
		chat:      opts.Chat,
		logs:      opts.Logs,
		terminal:  opts.Terminal,
		callbacks: newTokenLimiter(opts.CallbackRate, 0),
		startedAt: time.Now(),
	}
	if s.status == nil {
		s.status = monitor.NewCache()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors(opts.AllowedOrigins))

	r.Get("/health", s.handleHealth)

	r.Route("/internal", func(r chi.Router) {
		r.Post("/credentials", s.handleCredentials)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireSecret(opts.APISecret))

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleCreateAgent)
			r.Get("/{id}", s.handleGetAgent)
			r.Patch("/{id}", s.handleUpdateAgent)
			r.Delete("/{id}", s.handleDeleteAgent)

			r.Post("/{id}/start", s.handleStartAgent)
			r.Post("/{id}/stop", s.handleStopAgent)
			r.Post("/{id}/restart", s.handleRestartAgent)
			r.Get("/{id}/status", s.handleAgentStatus)

			r.Post("/{id}/chat", s.handleChat)
			r.Get("/{id}/logs", s.handleLogs)
			r.Get("/{id}/terminal", s.handleTerminal)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.handleListProviders)
			r.Post("/", s.handleCreateProvider)
			r.Delete("/{id}", s.handleDeleteProvider)
		})
	})

	s.handler = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status    string       `json:"status"`
	PID       int          `json:"pid"`
	Uptime    int64        `json:"uptime"`
	StartedAt string       `json:"startedAt"`
	Agents    HealthAgents `json:"agents"`
}

// HealthAgents counts agents by state.
type HealthAgents struct {
	Total   int `json:"total"`
	Running int `json:"running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		PID:       os.Getpid(),
		Uptime:    int64(time.Since(s.startedAt).Seconds()),
		StartedAt: s.startedAt.UTC().Format(time.RFC3339),
	}
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeErrorDetails(w, http.StatusServiceUnavailable, "Database unavailable", err.Error())
		return
	}
	resp.Agents.Total = len(agents)
	for _, a := range agents {
		if a.Status == storage.StatusRunning {
			resp.Agents.Running++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
