// Package api is the localhost HTTP surface the launcher UI talks to.
// It exposes the sync triggers, the quest CRUD, the economy state and the
// allowance lookups; it never blocks on remote I/O except for the explicit
// first-login reconciliation.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kolapsis/questlock/internal/allowance"
	"github.com/kolapsis/questlock/internal/config"
	"github.com/kolapsis/questlock/internal/economy"
	"github.com/kolapsis/questlock/internal/rewards"
	"github.com/kolapsis/questlock/internal/session"
	"github.com/kolapsis/questlock/internal/store"
	"github.com/kolapsis/questlock/internal/syncer"
)

// Deps wires the engine components into the HTTP surface.
type Deps struct {
	Store     store.Store
	Engine    *economy.Engine
	Sequencer *rewards.Sequencer
	Sync      *syncer.Coordinator
	Allowance *allowance.Service
	Sessions  *session.Manager
	Clock     economy.Clock
	Config    *config.Config
}

// Server handles launcher requests.
type Server struct {
	deps Deps
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = economy.SystemClock{}
	}
	return &Server{deps: deps}
}

// Routes builds the chi router with all middleware attached.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(CountRequests)
	r.Use(RateLimit(s.deps.Config.RateLimit))

	r.Get("/health", s.handleHealth)
	r.With(BasicAuth(s.deps.Config.Server.MetricsUser, s.deps.Config.Server.MetricsPass)).
		Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync/connectivity", s.handleSyncConnectivity)
		r.Post("/sync/foreground", s.handleSyncForeground)
		r.Post("/sync/first-login", s.handleSyncFirstLogin)

		r.Get("/quests", s.handleListQuests)
		r.Post("/quests", s.handleCreateQuest)
		r.Get("/quests/{id}", s.handleGetQuest)
		r.Put("/quests/{id}", s.handleUpdateQuest)
		r.Delete("/quests/{id}", s.handleDeleteQuest)
		r.Post("/quests/{id}/complete", s.handleCompleteQuest)

		r.Get("/profile", s.handleGetProfile)
		r.Post("/profile/coins/use", s.handleUseCoins)
		r.Post("/boosts/{item}/activate", s.handleActivateBoost)

		r.Get("/rewards", s.handleRewardState)
		r.Post("/rewards/advance", s.handleRewardAdvance)

		r.Post("/usage", s.handleRecordUsage)
		r.Get("/allowance/{package}", s.handleAllowance)

		r.Post("/session", s.handleSignIn)
		r.Delete("/session", s.handleSignOut)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
