// Package syncer reconciles the local store with the remote table store.
// Pushes send locally-dirty records and mark them synced only after a
// confirmed success; pulls apply remote records under last-writer-wins by
// last_updated. Every trigger is cheap to call: runs for the same record
// family are serialized and coalesced, so concurrent triggers cannot
// double-push or race two pulls.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/kolapsis/questlock/internal/economy"
	"github.com/kolapsis/questlock/internal/events"
	"github.com/kolapsis/questlock/internal/metrics"
	"github.com/kolapsis/questlock/internal/quest"
	"github.com/kolapsis/questlock/internal/remote"
	"github.com/kolapsis/questlock/internal/session"
	"github.com/kolapsis/questlock/internal/store"
)

// Config tunes the coordinator.
type Config struct {
	// Table names on the remote side.
	QuestsTable  string
	StatsTable   string
	ProfileTable string

	// PullWindow bounds reconciliation pulls to recently updated rows.
	PullWindow time.Duration
	// FanOut bounds concurrent per-record upserts within one push run.
	FanOut int
	// Debounce coalesces bursts of store changes into one push.
	Debounce time.Duration
	// RunTimeout bounds one full push or pull run.
	RunTimeout time.Duration
	// Clock supplies now for the pull-window boundary; tests inject a
	// fixed one.
	Clock economy.Clock
}

// Defaults fills unset fields.
func (c *Config) defaults() {
	if c.QuestsTable == "" {
		c.QuestsTable = "quests"
	}
	if c.StatsTable == "" {
		c.StatsTable = "stats"
	}
	if c.ProfileTable == "" {
		c.ProfileTable = "profiles"
	}
	if c.PullWindow <= 0 {
		c.PullWindow = 90 * 24 * time.Hour
	}
	if c.FanOut < 1 {
		c.FanOut = 4
	}
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = time.Minute
	}
	if c.Clock == nil {
		c.Clock = economy.SystemClock{}
	}
}

// AuthFailureFunc is called when the remote rejects our token; the UI
// boundary turns this into a "please sign in again" condition.
type AuthFailureFunc func(err error)

// Coordinator orchestrates directional sync per record family.
type Coordinator struct {
	store    store.Store
	client   *remote.Client
	sessions *session.Manager
	hub      *events.Hub
	cfg      Config

	runners map[events.Family]*runner

	authMu sync.Mutex
	onAuth AuthFailureFunc

	pullMu          sync.Mutex
	onProfilePulled func()
}

// runner serializes runs for one family and coalesces queued triggers.
type runner struct {
	mu      sync.Mutex
	running bool
	queued  bool
}

// New creates a coordinator.
func New(st store.Store, client *remote.Client, sessions *session.Manager, hub *events.Hub, cfg Config) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		store:    st,
		client:   client,
		sessions: sessions,
		hub:      hub,
		cfg:      cfg,
		runners: map[events.Family]*runner{
			events.FamilyQuests:  {},
			events.FamilyStats:   {},
			events.FamilyProfile: {},
		},
	}
}

// SetAuthFailureFunc installs the non-retryable-auth-error callback.
func (c *Coordinator) SetAuthFailureFunc(fn AuthFailureFunc) {
	c.authMu.Lock()
	c.onAuth = fn
	c.authMu.Unlock()
}

// SetProfilePulledFunc installs a callback fired after a pull replaced
// the stored profile, so in-memory holders (the economy engine) reload
// before their next mutation persists a stale copy.
func (c *Coordinator) SetProfilePulledFunc(fn func()) {
	c.pullMu.Lock()
	c.onProfilePulled = fn
	c.pullMu.Unlock()
}

func (c *Coordinator) profilePulled() {
	c.pullMu.Lock()
	fn := c.onProfilePulled
	c.pullMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Coordinator) authFailed(err error) {
	c.authMu.Lock()
	fn := c.onAuth
	c.authMu.Unlock()
	slog.Warn("remote rejected session token", "error", err)
	if fn != nil {
		fn(err)
	}
}

// --- Triggers ---

// OnConnectivityAvailable pushes all dirty records now that the network is back.
func (c *Coordinator) OnConnectivityAvailable() {
	c.schedulePush(events.FamilyQuests, events.FamilyStats, events.FamilyProfile)
}

// OnAppForeground pushes all dirty records when the launcher comes to front.
func (c *Coordinator) OnAppForeground() {
	c.schedulePush(events.FamilyQuests, events.FamilyStats, events.FamilyProfile)
}

// OnProfileChanged pushes the profile after an economy mutation.
func (c *Coordinator) OnProfileChanged() {
	c.schedulePush(events.FamilyProfile)
}

// OnFirstLogin runs the one-time full reconciliation: pull every family,
// then push anything still dirty. Blocking; callers run it once after
// sign-in.
func (c *Coordinator) OnFirstLogin(ctx context.Context) error {
	if _, ok := c.sessions.Current(); !ok {
		return nil
	}
	for _, f := range []events.Family{events.FamilyQuests, events.FamilyStats, events.FamilyProfile} {
		if err := c.runPull(ctx, f); err != nil {
			return fmt.Errorf("initial pull of %s: %w", f, err)
		}
	}
	c.schedulePush(events.FamilyQuests, events.FamilyStats, events.FamilyProfile)
	return nil
}

// Watch subscribes to local store changes and keeps pushing dirty records
// until ctx is cancelled. Changes are debounced so a burst of writes
// becomes one run.
func (c *Coordinator) Watch(ctx context.Context) {
	ch, cancel := c.hub.Subscribe(64)
	defer cancel()

	pending := make(map[events.Family]bool)
	timer := time.NewTimer(c.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != events.TypeStoreChanged {
				continue
			}
			if !pending[ev.Family] {
				pending[ev.Family] = true
			}
			timer.Reset(c.cfg.Debounce)
		case <-timer.C:
			for f := range pending {
				delete(pending, f)
				c.schedulePush(f)
			}
		}
	}
}

// schedulePush starts an asynchronous push run per family. If a run for
// the family is already in flight, one follow-up run is queued; further
// triggers coalesce into it.
func (c *Coordinator) schedulePush(families ...events.Family) {
	if _, ok := c.sessions.Current(); !ok {
		// Anonymous accounts never sync; this is by contract a no-op.
		return
	}
	for _, f := range families {
		f := f
		r := c.runners[f]
		r.mu.Lock()
		if r.running {
			r.queued = true
			r.mu.Unlock()
			continue
		}
		r.running = true
		r.mu.Unlock()

		go func() {
			for {
				ctx, cancelRun := context.WithTimeout(context.Background(), c.cfg.RunTimeout)
				if err := c.runPush(ctx, f); err != nil {
					slog.Warn("push run failed", "family", string(f), "error", err)
				}
				cancelRun()

				r.mu.Lock()
				if r.queued {
					r.queued = false
					r.mu.Unlock()
					continue
				}
				r.running = false
				r.mu.Unlock()
				return
			}
		}()
	}
}

// --- Push ---

func (c *Coordinator) runPush(ctx context.Context, f events.Family) error {
	sess, ok := c.sessions.Current()
	if !ok {
		return nil
	}

	start := time.Now()
	defer func() { metrics.ObserveRun(string(f), "push", time.Since(start)) }()

	var err error
	switch f {
	case events.FamilyQuests:
		err = c.pushQuests(ctx, sess)
	case events.FamilyStats:
		err = c.pushStats(ctx, sess)
	case events.FamilyProfile:
		err = c.pushProfile(ctx, sess)
	}
	if err == nil {
		c.hub.Publish(events.Event{Type: events.TypeSyncCompleted, Family: f})
	} else {
		c.hub.Publish(events.Event{Type: events.TypeSyncFailed, Family: f})
	}
	return err
}

func (c *Coordinator) pushQuests(ctx context.Context, sess session.Session) error {
	dirty, err := c.store.ListUnsyncedQuests(ctx)
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		return nil
	}
	slog.Debug("pushing quests", "count", len(dirty))

	return c.fanOut(ctx, len(dirty), func(ctx context.Context, i int) error {
		r := dirty[i]
		if err := c.client.Upsert(ctx, c.cfg.QuestsTable, toQuestRow(r, sess.UserID)); err != nil {
			return c.recordFailure(events.FamilyQuests, r.ID, err)
		}
		if err := c.store.MarkQuestSynced(ctx, r.ID, r.LastUpdated); err != nil {
			// ErrNotFound means the quest was edited (or purged) while the
			// push was in flight; it stays dirty for the next run.
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		metrics.RecordPushed(string(events.FamilyQuests))
		return nil
	})
}

func (c *Coordinator) pushStats(ctx context.Context, sess session.Session) error {
	dirty, err := c.store.ListUnsyncedStats(ctx)
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		return nil
	}
	slog.Debug("pushing stats", "count", len(dirty))

	return c.fanOut(ctx, len(dirty), func(ctx context.Context, i int) error {
		s := dirty[i]
		if s.UserID == "" {
			s.UserID = sess.UserID
		}
		if err := c.client.Upsert(ctx, c.cfg.StatsTable, toStatRow(s)); err != nil {
			return c.recordFailure(events.FamilyStats, s.ID, err)
		}
		if err := c.store.MarkStatSynced(ctx, s.ID); err != nil {
			return err
		}
		metrics.RecordPushed(string(events.FamilyStats))
		return nil
	})
}

func (c *Coordinator) pushProfile(ctx context.Context, sess session.Session) error {
	p, err := c.store.GetProfile(ctx)
	if err != nil {
		return err
	}
	if p == nil || !p.NeedsSync {
		return nil
	}
	if err := c.client.Upsert(ctx, c.cfg.ProfileTable, p); err != nil {
		return c.recordFailure(events.FamilyProfile, p.UserID, err)
	}
	// Only the dirty flag of the pushed snapshot is cleared; a profile
	// mutated during the upsert keeps needs_sync and goes out next run.
	if err := c.store.MarkProfileSynced(ctx, p.LastUpdated); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	metrics.RecordPushed(string(events.FamilyProfile))
	return nil
}

// fanOut runs fn for each index with bounded concurrency. Individual
// failures are already handled by fn; only the first hard error (storage
// or auth) aborts the run.
func (c *Coordinator) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	sem := make(chan struct{}, c.cfg.FanOut)
	errCh := make(chan error, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errCh <- fn(ctx, i)
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// recordFailure classifies a per-record remote failure. Retryable errors
// leave the record dirty and return nil so the rest of the batch proceeds;
// auth errors abort the run and notify the sign-in boundary.
func (c *Coordinator) recordFailure(f events.Family, id string, err error) error {
	metrics.RecordFailure(string(f))
	if remote.IsAuthError(err) {
		c.authFailed(err)
		return err
	}
	if remote.IsRetryable(err) {
		slog.Debug("record push failed, retrying on next trigger",
			"family", string(f), "id", id, "error", err)
		return nil
	}
	slog.Warn("record push rejected", "family", string(f), "id", id, "error", err)
	return nil
}

// --- Pull ---

// runPull reconciles one family from the remote side. Conflict rule:
// last-writer-wins by last_updated, decided before any local upsert is
// applied; exact ties prefer the remote value.
func (c *Coordinator) runPull(ctx context.Context, f events.Family) error {
	sess, ok := c.sessions.Current()
	if !ok {
		return nil
	}

	r := c.runners[f]
	r.mu.Lock()
	if r.running {
		// A push for this family is in flight; pulls never race it.
		r.mu.Unlock()
		return fmt.Errorf("sync run for %s already in flight", f)
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := time.Now()
	defer func() { metrics.ObserveRun(string(f), "pull", time.Since(start)) }()

	switch f {
	case events.FamilyQuests:
		return c.pullQuests(ctx, sess)
	case events.FamilyStats:
		return c.pullStats(ctx, sess)
	case events.FamilyProfile:
		return c.pullProfile(ctx, sess)
	}
	return nil
}

func (c *Coordinator) windowStart() int64 {
	return c.cfg.Clock.Now().Add(-c.cfg.PullWindow).UnixMilli()
}

func (c *Coordinator) pullQuests(ctx context.Context, sess session.Session) error {
	var rows []questRow
	filters := map[string]string{
		"user_id":      "eq." + sess.UserID,
		"last_updated": "gte." + strconv.FormatInt(c.windowStart(), 10),
	}
	if err := c.client.Select(ctx, c.cfg.QuestsTable, filters, &rows); err != nil {
		if remote.IsAuthError(err) {
			c.authFailed(err)
		}
		return err
	}

	for _, row := range rows {
		local, err := c.store.GetQuest(ctx, row.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// New on this device.
		case err != nil:
			return err
		default:
			if !resolveRemoteWins(local.LastUpdated, !local.Synced, row.LastUpdated, string(events.FamilyQuests)) {
				continue
			}
		}
		if err := c.store.UpsertQuest(ctx, row.toRecord()); err != nil {
			return err
		}
		metrics.RecordPulled(string(events.FamilyQuests))
	}
	slog.Info("pulled quests", "count", len(rows))
	return nil
}

func (c *Coordinator) pullStats(ctx context.Context, sess session.Session) error {
	var rows []statRow
	filters := map[string]string{
		"user_id": "eq." + sess.UserID,
		"date":    "gte." + c.cfg.Clock.Now().Add(-c.cfg.PullWindow).Format(quest.DateFormat),
	}
	if err := c.client.Select(ctx, c.cfg.StatsTable, filters, &rows); err != nil {
		if remote.IsAuthError(err) {
			c.authFailed(err)
		}
		return err
	}

	// The ledger is append-only: remote rows are upserted as-is, no
	// conflict resolution needed.
	stats := make([]*quest.Stat, len(rows))
	for i, row := range rows {
		stats[i] = row.toStat()
	}
	if err := c.store.UpsertStats(ctx, stats); err != nil {
		return err
	}
	for range stats {
		metrics.RecordPulled(string(events.FamilyStats))
	}
	slog.Info("pulled stats", "count", len(rows))
	return nil
}

func (c *Coordinator) pullProfile(ctx context.Context, sess session.Session) error {
	var rows []economy.Profile
	filters := map[string]string{"user_id": "eq." + sess.UserID}
	if err := c.client.Select(ctx, c.cfg.ProfileTable, filters, &rows); err != nil {
		if remote.IsAuthError(err) {
			c.authFailed(err)
		}
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	theirs := rows[0]

	ours, err := c.store.GetProfile(ctx)
	if err != nil {
		return err
	}
	if ours != nil {
		if !resolveRemoteWins(ours.LastUpdated, ours.NeedsSync, theirs.LastUpdated, string(events.FamilyProfile)) {
			return nil
		}
	}
	theirs.NeedsSync = false
	if err := c.store.SaveProfile(ctx, &theirs); err != nil {
		return err
	}
	c.profilePulled()
	metrics.RecordPulled(string(events.FamilyProfile))
	slog.Info("pulled profile", "user_id", sess.UserID)
	return nil
}

// resolveRemoteWins applies last-writer-wins. The comparison happens
// before any upsert so a newer local edit is never clobbered by an older
// remote echo. Exact ties prefer remote, an explicit tie-break rather than
// iteration order.
func resolveRemoteWins(localUpdated int64, localDirty bool, remoteUpdated int64, family string) bool {
	remoteWins := remoteUpdated >= localUpdated
	if localDirty {
		winner := "local"
		if remoteWins {
			winner = "remote"
		}
		metrics.RecordConflict(family, winner)
	}
	return remoteWins
}
