package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolapsis/questlock/internal/allowance"
	"github.com/kolapsis/questlock/internal/config"
	"github.com/kolapsis/questlock/internal/economy"
	"github.com/kolapsis/questlock/internal/events"
	"github.com/kolapsis/questlock/internal/remote"
	"github.com/kolapsis/questlock/internal/rewards"
	"github.com/kolapsis/questlock/internal/session"
	"github.com/kolapsis/questlock/internal/store"
	"github.com/kolapsis/questlock/internal/syncer"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	hub := events.NewHub()
	st, err := store.NewSQLiteStore(":memory:", hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sessions := session.NewManager(session.Session{}) // anonymous: sync is a no-op
	client := remote.NewClient("http://127.0.0.1:1", "key", func() (string, bool) {
		s, ok := sessions.Current()
		return s.Token, ok
	}, time.Second)

	engine := economy.NewEngine(st, nil)
	require.NoError(t, engine.Load(context.Background(), "local"))

	srv := NewServer(Deps{
		Store:     st,
		Engine:    engine,
		Sequencer: rewards.NewSequencer(engine, hub),
		Sync:      syncer.New(st, client, sessions, hub, syncer.Config{}),
		Allowance: allowance.NewService(st, engine, nil),
		Sessions:  sessions,
		Config:    config.Defaults(),
	})
	return srv.Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func validQuestBody() map[string]any {
	return map[string]any{
		"title":          "Morning focus",
		"integration_id": "deep_focus",
		"quest_json":     `{"target_minutes":30}`,
		"selected_days":  []int{1, 2, 3, 4, 5, 6, 7},
		"time_range":     map[string]int{"start_hour": 0, "end_hour": 24},
		"reward":         10,
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := doJSON(t, newTestServer(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestQuestCRUD(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/quests", validQuestBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = doJSON(t, h, http.MethodGet, "/v1/quests", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	update := validQuestBody()
	update["title"] = "Evening focus"
	rec = doJSON(t, h, http.MethodPut, "/v1/quests/"+created.ID, update)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/quests/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Evening focus")

	rec = doJSON(t, h, http.MethodDelete, "/v1/quests/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Soft-deleted quests vanish from the API surface.
	rec = doJSON(t, h, http.MethodGet, "/v1/quests/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/v1/quests", nil)
	listed = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestCreateQuest_Invalid(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	body := validQuestBody()
	body["selected_days"] = []int{9}
	rec := doJSON(t, h, http.MethodPost, "/v1/quests", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/quests", bytes.NewBufferString("{nope"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCompleteQuest_OncePerDay(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/quests", validQuestBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodPost, "/v1/quests/"+created.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Outcome economy.QuestOutcome `json:"outcome"`
		State   string               `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, economy.XPPerQuest, result.Outcome.XPGranted)
	assert.Equal(t, string(rewards.StateQuestCompleted), result.State)

	rec = doJSON(t, h, http.MethodPost, "/v1/quests/"+created.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRewardAdvance_WalksTheChain(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/rewards", nil)
	assert.Contains(t, rec.Body.String(), "none")

	rec = doJSON(t, h, http.MethodPost, "/v1/quests", validQuestBody())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	rec = doJSON(t, h, http.MethodPost, "/v1/quests/"+created.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state struct {
		State string `json:"state"`
	}
	for i := 0; i < 10; i++ {
		rec = doJSON(t, h, http.MethodPost, "/v1/rewards/advance", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
		if state.State == string(rewards.StateNone) {
			return
		}
	}
	t.Fatalf("reward chain never ended, last state %q", state.State)
}

func TestProfileAndCoins(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p economy.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 1, p.Level)

	rec = doJSON(t, h, http.MethodPost, "/v1/profile/coins/use", map[string]int{"amount": 100})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/profile/coins/use", map[string]int{"amount": -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivateBoost(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/boosts/mystery/activate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/boosts/xp_booster/activate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "no booster in inventory yet")
}

func TestUsageAndAllowance(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/usage",
		map[string]any{"package": "com.example.feed", "seconds": 600})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/usage", map[string]any{"package": "", "seconds": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// One day of history: the calculator falls back to its default quota.
	rec = doJSON(t, h, http.MethodGet, "/v1/allowance/com.example.feed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Allowance int `json:"allowance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, allowance.FallbackAllowance, out.Allowance)
}

func TestSyncTriggers(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/sync/connectivity", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/v1/sync/foreground", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Anonymous first login is a successful no-op.
	rec = doJSON(t, h, http.MethodPost, "/v1/sync/first-login", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSession(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/session", map[string]string{"user_id": "u", "token": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/session", map[string]string{"user_id": "u", "token": "jwt"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSignOut_DefaultKeepsLocalData(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/quests", validQuestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/quests", nil)
	var quests []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quests))
	assert.Len(t, quests, 1, "signing out keeps offline progress on the device")
}

func TestSignOut_WipeClearsLocalData(t *testing.T) {
	t.Parallel()

	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/quests", validQuestBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/session?wipe=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/quests", nil)
	var quests []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quests))
	assert.Empty(t, quests)
}

func TestMetricsBasicAuth(t *testing.T) {
	t.Parallel()

	hub := events.NewHub()
	st, err := store.NewSQLiteStore(":memory:", hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sessions := session.NewManager(session.Session{})
	engine := economy.NewEngine(st, nil)
	require.NoError(t, engine.Load(context.Background(), "local"))

	cfg := config.Defaults()
	cfg.Server.MetricsUser = "ops"
	cfg.Server.MetricsPass = "secret"

	client := remote.NewClient("http://127.0.0.1:1", "key", func() (string, bool) { return "", false }, time.Second)
	h := NewServer(Deps{
		Store:     st,
		Engine:    engine,
		Sequencer: rewards.NewSequencer(engine, hub),
		Sync:      syncer.New(st, client, sessions, hub, syncer.Config{}),
		Allowance: allowance.NewService(st, engine, nil),
		Sessions:  sessions,
		Config:    cfg,
	}).Routes()

	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("ops", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
