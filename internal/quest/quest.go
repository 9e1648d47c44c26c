package quest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the behavior variant of a quest.
type Kind string

const (
	KindDeepFocus           Kind = "deep_focus"
	KindHealthGoal          Kind = "health_goal"
	KindAiSnap              Kind = "ai_snap"
	KindExternalIntegration Kind = "external_integration"
)

// DateFormat is the calendar-date encoding used for last_completed_on.
const DateFormat = "2006-01-02"

// Record is a user-defined recurring quest.
//
// The synced and last_updated fields are the conflict-resolution contract
// with the remote table and must survive every (de)serialization path.
// synced itself is local bookkeeping and never leaves the device.
type Record struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Instructions  string    `json:"instructions"`
	IntegrationID Kind      `json:"integration_id"`
	QuestJSON     string    `json:"quest_json"`
	SelectedDays  []int     `json:"selected_days"` // ISO weekdays, Monday=1 .. Sunday=7
	TimeRange     TimeRange `json:"time_range"`
	Reward        int       `json:"reward"` // coins granted on completion
	IsDestroyed   bool      `json:"is_destroyed"`
	LastCompleted string    `json:"last_completed_on"` // DateFormat, empty if never
	LastUpdated   int64     `json:"last_updated"`      // epoch millis
	Synced        bool      `json:"-"`
}

// TimeRange is the daily window during which a quest can be completed.
// Hours are on a 0..24 scale; End == 24 means end of day.
type TimeRange struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// New creates an active quest with a fresh id and dirty sync state.
func New(title string, kind Kind, questJSON string, days []int, tr TimeRange, reward int) *Record {
	r := &Record{
		ID:            uuid.NewString(),
		Title:         title,
		IntegrationID: kind,
		QuestJSON:     questJSON,
		SelectedDays:  days,
		TimeRange:     tr,
		Reward:        reward,
	}
	r.Touch(time.Now())
	return r
}

// Validate checks the structural invariants of an active quest.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("quest is missing an id")
	}
	if !r.IsDestroyed && len(r.SelectedDays) == 0 {
		return fmt.Errorf("quest %q has no selected days", r.ID)
	}
	for _, d := range r.SelectedDays {
		if d < 1 || d > 7 {
			return fmt.Errorf("quest %q has invalid weekday %d", r.ID, d)
		}
	}
	if r.TimeRange.StartHour < 0 || r.TimeRange.EndHour > 24 || r.TimeRange.StartHour > r.TimeRange.EndHour {
		return fmt.Errorf("quest %q has invalid time range %d-%d", r.ID, r.TimeRange.StartHour, r.TimeRange.EndHour)
	}
	switch r.IntegrationID {
	case KindDeepFocus, KindHealthGoal, KindAiSnap, KindExternalIntegration:
	default:
		return fmt.Errorf("quest %q has unknown integration %q", r.ID, r.IntegrationID)
	}
	return nil
}

// Touch marks the record dirty and bumps last_updated.
// The timestamp never moves backwards, even if the wall clock does.
func (r *Record) Touch(now time.Time) {
	ms := now.UnixMilli()
	if ms <= r.LastUpdated {
		ms = r.LastUpdated + 1
	}
	r.LastUpdated = ms
	r.Synced = false
}

// Destroy soft-deletes the quest. The record stays in the local store until
// the deletion has been pushed and the retention purge removes it.
func (r *Record) Destroy(now time.Time) {
	r.IsDestroyed = true
	r.Touch(now)
}

// CompletedOn reports whether the quest was already completed on the given day.
func (r *Record) CompletedOn(day time.Time) bool {
	return r.LastCompleted == day.Format(DateFormat)
}

// MarkCompleted records a completion on the given day.
func (r *Record) MarkCompleted(now time.Time) {
	r.LastCompleted = now.Format(DateFormat)
	r.Touch(now)
}

// DueToday reports whether the quest is scheduled for the given moment:
// the weekday is selected and the time of day falls inside the window.
func (r *Record) DueToday(now time.Time) bool {
	if r.IsDestroyed {
		return false
	}
	day := isoWeekday(now.Weekday())
	found := false
	for _, d := range r.SelectedDays {
		if d == day {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	h := now.Hour()
	return h >= r.TimeRange.StartHour && h < r.TimeRange.EndHour
}

func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}
