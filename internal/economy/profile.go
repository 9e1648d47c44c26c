package economy

import "time"

// Item is a consumable or time-limited inventory item.
type Item string

const (
	ItemStreakFreezer Item = "streak_freezer"
	ItemXPBooster     Item = "xp_booster"
)

// BoostDuration is how long an activated XP booster stays in effect.
const BoostDuration = 24 * time.Hour

// DateFormat is the calendar-date encoding used in streak bookkeeping.
const DateFormat = "2006-01-02"

// Streak is the consecutive-day completion state.
type Streak struct {
	Current        int            `json:"current_streak"`
	Longest        int            `json:"longest_streak"`
	LastCompleted  string         `json:"last_completed_date"` // DateFormat, empty if never
	FailureHistory map[string]int `json:"streak_failure_history"`
}

// Profile is the singleton economy record for one user.
//
// NeedsSync is local bookkeeping and never leaves the device; last_updated
// is the conflict-resolution contract with the remote table.
type Profile struct {
	UserID       string             `json:"user_id"`
	XP           int                `json:"xp"`
	Coins        int                `json:"coins"`
	Level        int                `json:"level"`
	Inventory    map[Item]int       `json:"inventory"`
	ActiveBoosts map[Item]time.Time `json:"active_boosts"`
	Streak       Streak             `json:"streak"`
	CreatedOn    time.Time          `json:"created_on"`
	LastUpdated  int64              `json:"last_updated"` // epoch millis
	NeedsSync    bool               `json:"-"`
}

// NewProfile creates an empty level-1 profile for the given user.
func NewProfile(userID string, now time.Time) *Profile {
	return &Profile{
		UserID:       userID,
		Level:        1,
		Inventory:    make(map[Item]int),
		ActiveBoosts: make(map[Item]time.Time),
		Streak:       Streak{FailureHistory: make(map[string]int)},
		CreatedOn:    now,
		LastUpdated:  now.UnixMilli(),
		NeedsSync:    true,
	}
}

// Touch marks the profile dirty and bumps last_updated monotonically.
func (p *Profile) Touch(now time.Time) {
	ms := now.UnixMilli()
	if ms <= p.LastUpdated {
		ms = p.LastUpdated + 1
	}
	p.LastUpdated = ms
	p.NeedsSync = true
}

// AccountAgeDays returns whole calendar days since the profile was created.
func (p *Profile) AccountAgeDays(now time.Time) int {
	if p.CreatedOn.IsZero() {
		return 0
	}
	days := int(now.Sub(p.CreatedOn).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// normalize repairs nil maps after deserialization from an older record.
func (p *Profile) normalize() {
	if p.Inventory == nil {
		p.Inventory = make(map[Item]int)
	}
	if p.ActiveBoosts == nil {
		p.ActiveBoosts = make(map[Item]time.Time)
	}
	if p.Streak.FailureHistory == nil {
		p.Streak.FailureHistory = make(map[string]int)
	}
	if p.Level < 1 {
		p.Level = 1
	}
}
