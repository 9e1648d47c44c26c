package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kolapsis/questlock/internal/economy"
)

func (s *Server) handleGetProfile(w http.ResponseWriter, _ *http.Request) {
	p := s.deps.Engine.Profile()
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUseCoins(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int `json:"amount"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if err := s.deps.Engine.UseCoins(r.Context(), req.Amount); err != nil {
		if errors.Is(err, economy.ErrInsufficientCoins) {
			writeError(w, http.StatusPaymentRequired, "insufficient coins")
			return
		}
		writeError(w, http.StatusInternalServerError, "spending coins failed")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Engine.Profile())
}

func (s *Server) handleActivateBoost(w http.ResponseWriter, r *http.Request) {
	item := economy.Item(chi.URLParam(r, "item"))
	switch item {
	case economy.ItemXPBooster, economy.ItemStreakFreezer:
	default:
		writeError(w, http.StatusBadRequest, "unknown item")
		return
	}
	if err := s.deps.Engine.ActivateBoost(r.Context(), item); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Engine.Profile())
}

func (s *Server) handleRewardState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.deps.Sequencer.Current())})
}

func (s *Server) handleRewardAdvance(w http.ResponseWriter, r *http.Request) {
	next := s.deps.Sequencer.Advance(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"state": string(next)})
}
