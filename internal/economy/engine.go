package economy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kolapsis/questlock/internal/quest"
)

// XPPerQuest is the base XP granted for completing any quest.
const XPPerQuest = 50

// XPPerStreakDay is the XP granted per day when a streak advances or is
// bridged by freezers.
const XPPerStreakDay = 20

// ProfileStore is the persistence the engine needs. Defined at the consumer
// side; the sqlite store satisfies it.
type ProfileStore interface {
	GetProfile(ctx context.Context) (*Profile, error)
	SaveProfile(ctx context.Context, p *Profile) error
	AppendStat(ctx context.Context, s *quest.Stat) error
}

// XPToLevelUp returns the XP needed to move past the given level.
// Quadratic growth; the exact curve is tunable but must stay monotonic.
func XPToLevelUp(level int) int {
	if level < 1 {
		level = 1
	}
	return (level + 1) * (level + 1) * 25
}

// CalculateLevelUpCoins is the coin grant for reaching the given level.
func CalculateLevelUpCoins(level int) int {
	c := level * level
	if c < 50 {
		return 50
	}
	return c
}

// CalculateLevelUpRewards is the inventory grant for reaching the given
// level: a streak freezer every level, an XP booster every fifth.
func CalculateLevelUpRewards(level int) map[Item]int {
	rewards := map[Item]int{ItemStreakFreezer: 1}
	if level%5 == 0 {
		rewards[ItemXPBooster] = 1
	}
	return rewards
}

// FreezerResult reports the outcome of spending freezers on missed days.
type FreezerResult struct {
	Ongoing        bool
	FreezersUsed   int
	LastStreak     int
	Failed         bool
	StreakDaysLost int
}

// QuestOutcome summarizes the grants from one quest completion.
type QuestOutcome struct {
	XPGranted      int
	CoinsGranted   int
	LevelsGained   int
	StreakAdvanced bool
	CurrentStreak  int
}

// RolloverOutcome summarizes a daily rollover check.
type RolloverOutcome struct {
	DaysMissed int
	Freezers   *FreezerResult // nil when no days were missed
}

// Engine owns the profile and is its sole business-field writer. All
// operations are serialized through one mutex: the level-up loop and the
// freezer read-decide-write sequence are not atomic otherwise.
type Engine struct {
	mu      sync.Mutex
	store   ProfileStore
	clock   Clock
	profile *Profile

	// onChanged fires after every persisted mutation so the sync
	// coordinator can schedule a push.
	onChanged func()
}

// NewEngine creates an engine bound to one user's profile store.
func NewEngine(store ProfileStore, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{store: store, clock: clock}
}

// SetChangedFunc sets the callback invoked after each persisted mutation.
func (e *Engine) SetChangedFunc(fn func()) {
	e.mu.Lock()
	e.onChanged = fn
	e.mu.Unlock()
}

// Load reads the profile from the store, creating it on first use.
func (e *Engine) Load(ctx context.Context, userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetProfile(ctx)
	if err != nil {
		return fmt.Errorf("loading profile: %w", err)
	}
	if p == nil {
		p = NewProfile(userID, e.clock.Now())
		if err := e.store.SaveProfile(ctx, p); err != nil {
			return fmt.Errorf("creating profile: %w", err)
		}
		slog.Info("created new profile", "user_id", userID)
	}
	p.normalize()
	e.profile = p
	return nil
}

// Reload replaces the in-memory profile with the stored one. The sync
// coordinator calls it after a pull wrote a newer remote profile, so the
// next mutation starts from the pulled state instead of persisting a
// stale copy over it.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.GetProfile(ctx)
	if err != nil {
		return fmt.Errorf("reloading profile: %w", err)
	}
	if p == nil {
		return nil
	}
	p.normalize()
	e.profile = p
	return nil
}

// Profile returns a copy of the current profile state.
func (e *Engine) Profile() Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Profile {
	p := *e.profile
	p.Inventory = make(map[Item]int, len(e.profile.Inventory))
	for k, v := range e.profile.Inventory {
		p.Inventory[k] = v
	}
	p.ActiveBoosts = make(map[Item]time.Time, len(e.profile.ActiveBoosts))
	for k, v := range e.profile.ActiveBoosts {
		p.ActiveBoosts[k] = v
	}
	p.Streak.FailureHistory = make(map[string]int, len(e.profile.Streak.FailureHistory))
	for k, v := range e.profile.Streak.FailureHistory {
		p.Streak.FailureHistory[k] = v
	}
	return p
}

// AddXp grants XP and returns the number of levels gained. An unexpired XP
// booster doubles the grant. Negative amounts clamp to zero: this is reward
// logic, not a ledger of record.
func (e *Engine) AddXp(ctx context.Context, amount int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	levels := e.addXpLocked(amount)
	if err := e.persistLocked(ctx); err != nil {
		return 0, err
	}
	return levels, nil
}

func (e *Engine) addXpLocked(amount int) int {
	if amount < 0 {
		amount = 0
	}
	e.dropExpiredBoostsLocked()
	if _, boosted := e.profile.ActiveBoosts[ItemXPBooster]; boosted {
		amount *= 2
	}

	e.profile.XP += amount
	levels := 0
	// A single large grant can cross several thresholds.
	for e.profile.XP >= XPToLevelUp(e.profile.Level) {
		e.profile.XP -= XPToLevelUp(e.profile.Level)
		e.profile.Level++
		levels++
	}
	e.profile.Touch(e.clock.Now())
	return levels
}

// AddCoins grants coins; negative amounts clamp to zero.
func (e *Engine) AddCoins(ctx context.Context, amount int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount < 0 {
		amount = 0
	}
	e.profile.Coins += amount
	e.profile.Touch(e.clock.Now())
	return e.persistLocked(ctx)
}

// ErrInsufficientCoins is returned by UseCoins when the balance is too low.
var ErrInsufficientCoins = fmt.Errorf("insufficient coins")

// UseCoins deducts coins, refusing to take the balance negative.
func (e *Engine) UseCoins(ctx context.Context, amount int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount < 0 {
		amount = 0
	}
	if e.profile.Coins < amount {
		return ErrInsufficientCoins
	}
	e.profile.Coins -= amount
	e.profile.Touch(e.clock.Now())
	return e.persistLocked(ctx)
}

// GrantItems adds inventory items, e.g. level-up rewards or store purchases.
func (e *Engine) GrantItems(ctx context.Context, items map[Item]int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for item, n := range items {
		if n < 0 {
			n = 0
		}
		e.profile.Inventory[item] += n
	}
	e.profile.Touch(e.clock.Now())
	return e.persistLocked(ctx)
}

// ActivateBoost consumes one inventory item of the given kind and starts
// its timed effect.
func (e *Engine) ActivateBoost(ctx context.Context, item Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile.Inventory[item] < 1 {
		return fmt.Errorf("no %s in inventory", item)
	}
	e.profile.Inventory[item]--
	e.profile.ActiveBoosts[item] = e.clock.Now().Add(BoostDuration)
	e.profile.Touch(e.clock.Now())
	return e.persistLocked(ctx)
}

// RemoveInactiveBoosters drops expired boost entries. Booster-conditional
// logic inside the engine already does this; the call exists for callers
// that surface boost state.
func (e *Engine) RemoveInactiveBoosters(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dropped := e.dropExpiredBoostsLocked(); dropped == 0 {
		return nil
	}
	e.profile.Touch(e.clock.Now())
	return e.persistLocked(ctx)
}

func (e *Engine) dropExpiredBoostsLocked() int {
	now := e.clock.Now()
	dropped := 0
	for item, expiry := range e.profile.ActiveBoosts {
		if !expiry.After(now) {
			delete(e.profile.ActiveBoosts, item)
			dropped++
		}
	}
	return dropped
}

// CheckStreakFailed returns the number of fully missed days beyond the one
// grace day, or zero if the streak is intact. Pure calendar-day arithmetic.
func (e *Engine) CheckStreakFailed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.daysMissedLocked()
}

func (e *Engine) daysMissedLocked() int {
	last := e.profile.Streak.LastCompleted
	if last == "" || e.profile.Streak.Current == 0 {
		return 0
	}
	now := e.clock.Now()
	lastDay, err := time.ParseInLocation(DateFormat, last, now.Location())
	if err != nil {
		slog.Warn("unparseable last completed date, resetting", "value", last)
		return 0
	}
	gap := DaysBetween(lastDay, now)
	if gap <= 1 {
		return 0
	}
	return gap - 1
}

// TryUseStreakFreezers spends exactly daysMissed freezers to keep the streak
// alive, or fails the streak. The decision is atomic: the failure branch
// consumes nothing.
func (e *Engine) TryUseStreakFreezers(ctx context.Context, daysMissed int) (FreezerResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.useFreezersLocked(daysMissed)
	if err := e.persistLocked(ctx); err != nil {
		return FreezerResult{}, err
	}
	return res, nil
}

func (e *Engine) useFreezersLocked(daysMissed int) FreezerResult {
	now := e.clock.Now()
	st := &e.profile.Streak

	if daysMissed <= 0 {
		return FreezerResult{Ongoing: true, LastStreak: st.Current}
	}

	if e.profile.Inventory[ItemStreakFreezer] >= daysMissed {
		e.profile.Inventory[ItemStreakFreezer] -= daysMissed
		yesterday := now.AddDate(0, 0, -1)
		st.LastCompleted = yesterday.Format(DateFormat)
		e.profile.Touch(now)
		slog.Info("streak preserved with freezers",
			"freezers_used", daysMissed,
			"current_streak", st.Current)
		return FreezerResult{Ongoing: true, FreezersUsed: daysMissed, LastStreak: st.Current}
	}

	lost := st.Current
	if lost > st.Longest {
		st.Longest = lost
	}
	st.FailureHistory[now.Format(DateFormat)] = lost
	st.Current = 0
	st.LastCompleted = ""
	e.profile.Touch(now)
	slog.Info("streak failed", "days_lost", lost, "days_missed", daysMissed)
	return FreezerResult{Failed: true, StreakDaysLost: lost}
}

// ContinueStreak advances the streak once per calendar day. A second call on
// the same day is a no-op returning false.
func (e *Engine) ContinueStreak(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	advanced := e.continueStreakLocked()
	if !advanced {
		return false, nil
	}
	if err := e.persistLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) continueStreakLocked() bool {
	now := e.clock.Now()
	today := now.Format(DateFormat)
	st := &e.profile.Streak
	if st.LastCompleted == today {
		return false
	}
	st.Current++
	if st.Current > st.Longest {
		st.Longest = st.Current
	}
	st.LastCompleted = today
	e.profile.Touch(now)
	return true
}

// OnQuestCompleted applies the grants for one completed quest: base XP,
// the quest's coin reward, a stats ledger entry and at most one streak
// advance per day.
func (e *Engine) OnQuestCompleted(ctx context.Context, q *quest.Record) (QuestOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := QuestOutcome{CoinsGranted: q.Reward, XPGranted: XPPerQuest}
	out.LevelsGained = e.addXpLocked(XPPerQuest)
	if q.Reward > 0 {
		e.profile.Coins += q.Reward
	}
	out.StreakAdvanced = e.continueStreakLocked()
	out.CurrentStreak = e.profile.Streak.Current

	stat := quest.NewStat(q.ID, e.profile.UserID, e.clock.Now())
	if err := e.store.AppendStat(ctx, stat); err != nil {
		return QuestOutcome{}, fmt.Errorf("recording completion: %w", err)
	}
	if err := e.persistLocked(ctx); err != nil {
		return QuestOutcome{}, err
	}
	return out, nil
}

// OnDailyRollover runs the calendar-day checks: expired boosts are dropped
// and missed days are settled against the freezer inventory.
func (e *Engine) OnDailyRollover(ctx context.Context) (RolloverOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dropExpiredBoostsLocked()

	out := RolloverOutcome{DaysMissed: e.daysMissedLocked()}
	if out.DaysMissed > 0 {
		res := e.useFreezersLocked(out.DaysMissed)
		out.Freezers = &res
	}
	if err := e.persistLocked(ctx); err != nil {
		return RolloverOutcome{}, err
	}
	return out, nil
}

func (e *Engine) persistLocked(ctx context.Context) error {
	if err := e.store.SaveProfile(ctx, e.profile); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	if e.onChanged != nil {
		go e.onChanged()
	}
	return nil
}
