package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kolapsis/questlock/internal/quest"
	"github.com/kolapsis/questlock/internal/store"
)

type questRequest struct {
	Title        string          `json:"title"`
	Instructions string          `json:"instructions"`
	Integration  quest.Kind      `json:"integration_id"`
	QuestJSON    string          `json:"quest_json"`
	SelectedDays []int           `json:"selected_days"`
	TimeRange    quest.TimeRange `json:"time_range"`
	Reward       int             `json:"reward"`
}

func (s *Server) handleListQuests(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Store.ListQuests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing quests failed")
		return
	}

	now := s.deps.Clock.Now()
	out := make([]*quest.Record, 0, len(all))
	dueOnly := r.URL.Query().Get("due") == "today"
	for _, q := range all {
		if q.IsDestroyed {
			continue
		}
		if dueOnly && !q.DueToday(now) {
			continue
		}
		out = append(out, q)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateQuest(w http.ResponseWriter, r *http.Request) {
	var req questRequest
	if !readJSON(w, r, &req) {
		return
	}

	q := quest.New(req.Title, req.Integration, req.QuestJSON, req.SelectedDays, req.TimeRange, req.Reward)
	q.Instructions = req.Instructions
	if err := q.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Store.UpsertQuest(r.Context(), q); err != nil {
		writeError(w, http.StatusInternalServerError, "saving quest failed")
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) handleGetQuest(w http.ResponseWriter, r *http.Request) {
	q, ok := s.loadQuest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleUpdateQuest(w http.ResponseWriter, r *http.Request) {
	q, ok := s.loadQuest(w, r)
	if !ok {
		return
	}

	var req questRequest
	if !readJSON(w, r, &req) {
		return
	}

	q.Title = req.Title
	q.Instructions = req.Instructions
	q.IntegrationID = req.Integration
	q.QuestJSON = req.QuestJSON
	q.SelectedDays = req.SelectedDays
	q.TimeRange = req.TimeRange
	q.Reward = req.Reward
	q.Touch(s.deps.Clock.Now())

	if err := q.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Store.UpsertQuest(r.Context(), q); err != nil {
		writeError(w, http.StatusInternalServerError, "saving quest failed")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleDeleteQuest soft-deletes: the tombstone stays local until the
// deletion has synced and the retention purge collects it.
func (s *Server) handleDeleteQuest(w http.ResponseWriter, r *http.Request) {
	q, ok := s.loadQuest(w, r)
	if !ok {
		return
	}
	q.Destroy(s.deps.Clock.Now())
	if err := s.deps.Store.UpsertQuest(r.Context(), q); err != nil {
		writeError(w, http.StatusInternalServerError, "saving quest failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteQuest(w http.ResponseWriter, r *http.Request) {
	q, ok := s.loadQuest(w, r)
	if !ok {
		return
	}

	now := s.deps.Clock.Now()
	if q.CompletedOn(now) {
		writeError(w, http.StatusConflict, "quest already completed today")
		return
	}

	q.MarkCompleted(now)
	if err := s.deps.Store.UpsertQuest(r.Context(), q); err != nil {
		writeError(w, http.StatusInternalServerError, "saving quest failed")
		return
	}

	out, err := s.deps.Sequencer.BeginQuestCompleted(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome": out,
		"state":   s.deps.Sequencer.Current(),
	})
}

func (s *Server) loadQuest(w http.ResponseWriter, r *http.Request) (*quest.Record, bool) {
	id := chi.URLParam(r, "id")
	q, err := s.deps.Store.GetQuest(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "quest not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading quest failed")
		return nil, false
	}
	if q.IsDestroyed {
		writeError(w, http.StatusNotFound, "quest not found")
		return nil, false
	}
	return q, true
}
