package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kolapsis/questlock/internal/economy"
	"github.com/kolapsis/questlock/internal/events"
	"github.com/kolapsis/questlock/internal/quest"
)

const dayFormat = "2006-01-02"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
// Every committed write publishes a store.changed event on the hub, which
// is how the rest of the engine reacts to local mutation without polling.
type SQLiteStore struct {
	db  *sql.DB
	hub *events.Hub
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent
// directory with 0700. hub may be nil for consumers that don't need the
// change feed.
func NewSQLiteStore(path string, hub *events.Hub) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, hub: hub}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) notify(family events.Family, id string) {
	if s.hub != nil {
		s.hub.Publish(events.Event{Type: events.TypeStoreChanged, Family: family, ID: id})
	}
}

// --- Quests ---

func (s *SQLiteStore) UpsertQuest(ctx context.Context, r *quest.Record) error {
	if err := s.upsertQuest(ctx, s.db, r); err != nil {
		return err
	}
	s.notify(events.FamilyQuests, r.ID)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) upsertQuest(ctx context.Context, ex execer, r *quest.Record) error {
	days, err := json.Marshal(r.SelectedDays)
	if err != nil {
		return storageErr("encoding selected days", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO quests
		(id, title, instructions, integration_id, quest_json, selected_days,
		 start_hour, end_hour, reward, is_destroyed, last_completed_on, last_updated, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 title = excluded.title,
		 instructions = excluded.instructions,
		 integration_id = excluded.integration_id,
		 quest_json = excluded.quest_json,
		 selected_days = excluded.selected_days,
		 start_hour = excluded.start_hour,
		 end_hour = excluded.end_hour,
		 reward = excluded.reward,
		 is_destroyed = excluded.is_destroyed,
		 last_completed_on = excluded.last_completed_on,
		 last_updated = excluded.last_updated,
		 synced = excluded.synced`,
		r.ID, r.Title, r.Instructions, string(r.IntegrationID), r.QuestJSON, string(days),
		r.TimeRange.StartHour, r.TimeRange.EndHour, r.Reward, boolToInt(r.IsDestroyed),
		r.LastCompleted, r.LastUpdated, boolToInt(r.Synced))
	if err != nil {
		return storageErr("upserting quest", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertQuests(ctx context.Context, rs []*quest.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rs {
		if err := s.upsertQuest(ctx, tx, r); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("committing quests", err)
	}
	for _, r := range rs {
		s.notify(events.FamilyQuests, r.ID)
	}
	return nil
}

const questColumns = `id, title, instructions, integration_id, quest_json, selected_days,
	start_hour, end_hour, reward, is_destroyed, last_completed_on, last_updated, synced`

func (s *SQLiteStore) GetQuest(ctx context.Context, id string) (*quest.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questColumns+` FROM quests WHERE id = ?`, id)
	r, err := scanQuest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("reading quest", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListQuests(ctx context.Context) ([]*quest.Record, error) {
	return s.listQuests(ctx, `SELECT `+questColumns+` FROM quests ORDER BY last_updated DESC`)
}

func (s *SQLiteStore) ListUnsyncedQuests(ctx context.Context) ([]*quest.Record, error) {
	return s.listQuests(ctx, `SELECT `+questColumns+` FROM quests WHERE synced = 0 ORDER BY last_updated`)
}

func (s *SQLiteStore) listQuests(ctx context.Context, query string) ([]*quest.Record, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("listing quests", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*quest.Record
	for rows.Next() {
		r, err := scanQuest(rows.Scan)
		if err != nil {
			return nil, storageErr("scanning quest", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating quests", err)
	}
	return out, nil
}

func scanQuest(scan func(...any) error) (*quest.Record, error) {
	var r quest.Record
	var kind, days string
	var destroyed, synced int
	err := scan(&r.ID, &r.Title, &r.Instructions, &kind, &r.QuestJSON, &days,
		&r.TimeRange.StartHour, &r.TimeRange.EndHour, &r.Reward, &destroyed,
		&r.LastCompleted, &r.LastUpdated, &synced)
	if err != nil {
		return nil, err
	}
	r.IntegrationID = quest.Kind(kind)
	r.IsDestroyed = destroyed != 0
	r.Synced = synced != 0
	if err := json.Unmarshal([]byte(days), &r.SelectedDays); err != nil {
		return nil, fmt.Errorf("decoding selected days: %w", err)
	}
	return &r, nil
}

// MarkQuestSynced clears the dirty flag only when last_updated still
// matches the pushed snapshot. A quest edited between the unsynced
// listing and this call keeps its flag and goes out on the next run.
func (s *SQLiteStore) MarkQuestSynced(ctx context.Context, id string, lastUpdated int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE quests SET synced = 1 WHERE id = ? AND last_updated = ?", id, lastUpdated)
	if err != nil {
		return storageErr("marking quest synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteQuest hard-deletes a quest. Only the purge path may use it;
// user-facing deletion is the is_destroyed soft delete.
func (s *SQLiteStore) DeleteQuest(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM quests WHERE id = ?", id); err != nil {
		return storageErr("deleting quest", err)
	}
	s.notify(events.FamilyQuests, id)
	return nil
}

// PurgeDestroyedQuests hard-deletes quests that are soft-deleted, already
// pushed, and older than the cutoff. Unsynced deletions are never purged.
func (s *SQLiteStore) PurgeDestroyedQuests(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM quests WHERE is_destroyed = 1 AND synced = 1 AND last_updated < ?",
		before.UnixMilli())
	if err != nil {
		return 0, storageErr("purging quests", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- Stats ---

func (s *SQLiteStore) AppendStat(ctx context.Context, st *quest.Stat) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO stats (id, quest_id, user_id, date, synced) VALUES (?, ?, ?, ?, ?)",
		st.ID, st.QuestID, st.UserID, st.Date, boolToInt(st.Synced))
	if err != nil {
		return storageErr("appending stat", err)
	}
	s.notify(events.FamilyStats, st.ID)
	return nil
}

func (s *SQLiteStore) UpsertStats(ctx context.Context, ss []*quest.Stat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, st := range ss {
		_, err := tx.ExecContext(ctx, `INSERT INTO stats (id, quest_id, user_id, date, synced)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET synced = excluded.synced`,
			st.ID, st.QuestID, st.UserID, st.Date, boolToInt(st.Synced))
		if err != nil {
			return storageErr("upserting stat", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("committing stats", err)
	}
	for _, st := range ss {
		s.notify(events.FamilyStats, st.ID)
	}
	return nil
}

func (s *SQLiteStore) ListStats(ctx context.Context) ([]*quest.Stat, error) {
	return s.listStats(ctx, "SELECT id, quest_id, user_id, date, synced FROM stats ORDER BY date")
}

func (s *SQLiteStore) ListUnsyncedStats(ctx context.Context) ([]*quest.Stat, error) {
	return s.listStats(ctx, "SELECT id, quest_id, user_id, date, synced FROM stats WHERE synced = 0 ORDER BY date")
}

func (s *SQLiteStore) listStats(ctx context.Context, query string) ([]*quest.Stat, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("listing stats", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*quest.Stat
	for rows.Next() {
		var st quest.Stat
		var synced int
		if err := rows.Scan(&st.ID, &st.QuestID, &st.UserID, &st.Date, &synced); err != nil {
			return nil, storageErr("scanning stat", err)
		}
		st.Synced = synced != 0
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating stats", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkStatSynced(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE stats SET synced = 1 WHERE id = ?", id)
	if err != nil {
		return storageErr("marking stat synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Profile ---

func (s *SQLiteStore) GetProfile(ctx context.Context) (*economy.Profile, error) {
	var data string
	var needsSync int
	err := s.db.QueryRowContext(ctx,
		"SELECT data, needs_sync FROM profile LIMIT 1").Scan(&data, &needsSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("reading profile", err)
	}

	var p economy.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, storageErr("decoding profile", err)
	}
	p.NeedsSync = needsSync != 0
	return &p, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, p *economy.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return storageErr("encoding profile", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO profile (user_id, data, last_updated, needs_sync)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		 data = excluded.data,
		 last_updated = excluded.last_updated,
		 needs_sync = excluded.needs_sync`,
		p.UserID, string(data), p.LastUpdated, boolToInt(p.NeedsSync))
	if err != nil {
		return storageErr("saving profile", err)
	}
	s.notify(events.FamilyProfile, p.UserID)
	return nil
}

// MarkProfileSynced clears needs_sync only when last_updated still matches
// the pushed snapshot, so a profile mutated mid-push stays dirty.
func (s *SQLiteStore) MarkProfileSynced(ctx context.Context, lastUpdated int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE profile SET needs_sync = 0 WHERE last_updated = ?", lastUpdated)
	if err != nil {
		return storageErr("marking profile synced", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Usage ---

// RecordUsage adds used time to the per-app counter for the given day.
func (s *SQLiteStore) RecordUsage(ctx context.Context, packageName string, day time.Time, used time.Duration) error {
	if used < 0 {
		used = 0
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO usage (package, day, seconds)
		VALUES (?, ?, ?)
		ON CONFLICT(package, day) DO UPDATE SET seconds = seconds + excluded.seconds`,
		packageName, day.Format(dayFormat), int64(used.Seconds()))
	if err != nil {
		return storageErr("recording usage", err)
	}
	return nil
}

// PastNDaysUsage returns up to n days of usage for the package, newest day
// first, with zero for days without a row. When the package has been
// tracked for fewer than n days the slice is shorter, which the allowance
// calculator treats as insufficient history.
func (s *SQLiteStore) PastNDaysUsage(ctx context.Context, packageName string, n int) ([]time.Duration, error) {
	var first sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MIN(day) FROM usage WHERE package = ?", packageName).Scan(&first)
	if err != nil {
		return nil, storageErr("reading usage range", err)
	}
	if !first.Valid || first.String == "" {
		return nil, nil
	}

	today := time.Now()
	firstDay, err := time.ParseInLocation(dayFormat, first.String, today.Location())
	if err != nil {
		return nil, storageErr("parsing usage day", err)
	}
	tracked := economy.DaysBetween(firstDay, today) + 1
	if tracked < n {
		n = tracked
	}

	byDay := make(map[string]int64, n)
	rows, err := s.db.QueryContext(ctx,
		"SELECT day, seconds FROM usage WHERE package = ? AND day >= ?",
		packageName, today.AddDate(0, 0, -(n-1)).Format(dayFormat))
	if err != nil {
		return nil, storageErr("listing usage", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var day string
		var seconds int64
		if err := rows.Scan(&day, &seconds); err != nil {
			return nil, storageErr("scanning usage", err)
		}
		byDay[day] = seconds
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterating usage", err)
	}

	out := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		day := today.AddDate(0, 0, -i).Format(dayFormat)
		out[i] = time.Duration(byDay[day]) * time.Second
	}
	return out, nil
}

// DeleteAll wipes every record family in one transaction. Used when a
// user signs out and asks for their data to leave the device.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("beginning transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"quests", "stats", "profile", "usage"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr("wiping "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("committing wipe", err)
	}

	s.notify(events.FamilyQuests, "")
	s.notify(events.FamilyStats, "")
	s.notify(events.FamilyProfile, "")
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
