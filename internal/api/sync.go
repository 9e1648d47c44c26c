package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kolapsis/questlock/internal/quest"
)

// Sync triggers are fire-and-forget: the coordinator serializes and
// coalesces runs internally, so these handlers return immediately.

func (s *Server) handleSyncConnectivity(w http.ResponseWriter, _ *http.Request) {
	s.deps.Sync.OnConnectivityAvailable()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSyncForeground(w http.ResponseWriter, _ *http.Request) {
	s.deps.Sync.OnAppForeground()
	w.WriteHeader(http.StatusAccepted)
}

// handleSyncFirstLogin blocks until the initial pull completes so the UI
// can show reconciled data on its first render after sign-in.
func (s *Server) handleSyncFirstLogin(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sync.OnFirstLogin(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "initial reconciliation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		Token  string `json:"token"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "user_id and token are required")
		return
	}
	s.deps.Sessions.SignIn(req.UserID, req.Token)
	w.WriteHeader(http.StatusNoContent)
}

// handleSignOut clears the session. Local data stays on the device so an
// offline user keeps their progress; ?wipe=true removes it, for shared
// devices.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.SignOut()
	if r.URL.Query().Get("wipe") == "true" {
		if err := s.deps.Store.DeleteAll(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "wiping local data failed")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Package string `json:"package"`
		Seconds int    `json:"seconds"`
		Day     string `json:"day"` // optional, DateFormat; defaults to today
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Package == "" || req.Seconds < 0 {
		writeError(w, http.StatusBadRequest, "package is required and seconds must be non-negative")
		return
	}

	day := s.deps.Clock.Now()
	if req.Day != "" {
		parsed, err := time.ParseInLocation(quest.DateFormat, req.Day, day.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "day must be formatted YYYY-MM-DD")
			return
		}
		day = parsed
	}

	err := s.deps.Store.RecordUsage(r.Context(), req.Package, day, time.Duration(req.Seconds)*time.Second)
	if err != nil {
		slog.Warn("recording usage failed", "package", req.Package, "error", err)
		writeError(w, http.StatusInternalServerError, "recording usage failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	pkg := chi.URLParam(r, "package")
	n, err := s.deps.Allowance.ForApp(r.Context(), pkg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "allowance calculation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"package": pkg, "allowance": n})
}
