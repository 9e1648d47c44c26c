package economy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolapsis/questlock/internal/quest"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type memProfileStore struct {
	profile *Profile
	stats   []*quest.Stat
	saves   int
}

func (m *memProfileStore) GetProfile(context.Context) (*Profile, error) {
	return m.profile, nil
}

func (m *memProfileStore) SaveProfile(_ context.Context, p *Profile) error {
	m.profile = p
	m.saves++
	return nil
}

func (m *memProfileStore) AppendStat(_ context.Context, s *quest.Stat) error {
	m.stats = append(m.stats, s)
	return nil
}

func newTestEngine(t *testing.T, clock Clock) (*Engine, *memProfileStore) {
	t.Helper()
	st := &memProfileStore{}
	e := NewEngine(st, clock)
	require.NoError(t, e.Load(context.Background(), "user-1"))
	return e, st
}

func TestReload_ReplacesInMemoryProfile(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	e, st := newTestEngine(t, clock)
	ctx := context.Background()

	// A sync pull replaces the stored profile behind the engine's back.
	pulled := NewProfile("user-1", clock.Now())
	pulled.Level = 7
	pulled.Coins = 500
	pulled.LastUpdated = e.Profile().LastUpdated + 1000
	st.profile = pulled

	require.NoError(t, e.Reload(ctx))
	assert.Equal(t, 7, e.Profile().Level)

	// Mutations now build on the pulled state instead of reverting it.
	require.NoError(t, e.AddCoins(ctx, 1))
	assert.Equal(t, 7, st.profile.Level)
	assert.Equal(t, 501, st.profile.Coins)
}

func TestLoad_CreatesProfileOnFirstUse(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	e, st := newTestEngine(t, clock)

	p := e.Profile()
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 0, p.XP)
	assert.True(t, st.profile.NeedsSync, "a fresh profile must be pushed")
}

func TestXPToLevelUp_IsMonotonic(t *testing.T) {
	t.Parallel()

	prev := 0
	for level := 1; level <= 50; level++ {
		need := XPToLevelUp(level)
		assert.Greater(t, need, prev, "level %d", level)
		prev = need
	}
}

func TestAddXp_BelowThresholdKeepsLevel(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeClock{now: time.Now()})

	levels, err := e.AddXp(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 0, levels)

	p := e.Profile()
	assert.Equal(t, 50, p.XP)
	assert.Equal(t, 1, p.Level)
}

func TestAddXp_SingleGrantCrossesMultipleLevels(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeClock{now: time.Now()})

	// Level 1 needs 100, level 2 needs 225: 400 XP crosses both.
	levels, err := e.AddXp(context.Background(), 400)
	require.NoError(t, err)
	assert.Equal(t, 2, levels)

	p := e.Profile()
	assert.Equal(t, 3, p.Level)
	assert.Equal(t, 75, p.XP, "overflow carries into the new level")
}

func TestAddXp_NegativeClampsToZero(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeClock{now: time.Now()})

	_, err := e.AddXp(context.Background(), -100)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Profile().XP)
}

func TestAddXp_ActiveBoosterDoubles(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	require.NoError(t, e.GrantItems(ctx, map[Item]int{ItemXPBooster: 1}))
	require.NoError(t, e.ActivateBoost(ctx, ItemXPBooster))

	levels, err := e.AddXp(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, levels, "100 boosted XP crosses the level-1 threshold")
	assert.Equal(t, 0, e.Profile().XP)
}

func TestAddXp_ExpiredBoosterDoesNotDouble(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	require.NoError(t, e.GrantItems(ctx, map[Item]int{ItemXPBooster: 1}))
	require.NoError(t, e.ActivateBoost(ctx, ItemXPBooster))

	clock.advance(BoostDuration + time.Minute)

	_, err := e.AddXp(ctx, 30)
	require.NoError(t, err)

	p := e.Profile()
	assert.Equal(t, 30, p.XP)
	assert.Empty(t, p.ActiveBoosts, "expired boost entries are dropped")
}

func TestActivateBoost_RequiresInventory(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeClock{now: time.Now()})
	err := e.ActivateBoost(context.Background(), ItemXPBooster)
	assert.Error(t, err)
}

func TestUseCoins_RefusesNegativeBalance(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeClock{now: time.Now()})
	ctx := context.Background()

	require.NoError(t, e.AddCoins(ctx, 30))
	assert.ErrorIs(t, e.UseCoins(ctx, 50), ErrInsufficientCoins)
	assert.Equal(t, 30, e.Profile().Coins, "balance untouched on refusal")

	require.NoError(t, e.UseCoins(ctx, 30))
	assert.Equal(t, 0, e.Profile().Coins)
}

func TestContinueStreak_OncePerCalendarDay(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	advanced, err := e.ContinueStreak(ctx)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, 1, e.Profile().Streak.Current)

	// Same day, later hour: no second advance.
	clock.advance(10 * time.Hour)
	advanced, err = e.ContinueStreak(ctx)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, 1, e.Profile().Streak.Current)

	// Next calendar day advances again and tracks the longest streak.
	clock.advance(24 * time.Hour)
	advanced, err = e.ContinueStreak(ctx)
	require.NoError(t, err)
	assert.True(t, advanced)
	p := e.Profile()
	assert.Equal(t, 2, p.Streak.Current)
	assert.Equal(t, 2, p.Streak.Longest)
}

func TestCheckStreakFailed_GraceDay(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	_, err := e.ContinueStreak(ctx)
	require.NoError(t, err)

	// Yesterday completed: today is the grace day, nothing missed.
	clock.advance(24 * time.Hour)
	assert.Equal(t, 0, e.CheckStreakFailed())

	// Two days since completion: one fully missed day.
	clock.advance(24 * time.Hour)
	assert.Equal(t, 1, e.CheckStreakFailed())

	// Five days since completion: four missed days.
	clock.advance(3 * 24 * time.Hour)
	assert.Equal(t, 4, e.CheckStreakFailed())
}

func TestCheckStreakFailed_NoStreakNothingToFail(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeClock{now: time.Now()})
	assert.Equal(t, 0, e.CheckStreakFailed())
}

func TestTryUseStreakFreezers_SpendsExactlyMissedDays(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	_, err := e.ContinueStreak(ctx)
	require.NoError(t, err)
	require.NoError(t, e.GrantItems(ctx, map[Item]int{ItemStreakFreezer: 5}))

	clock.advance(4 * 24 * time.Hour) // three fully missed days
	missed := e.CheckStreakFailed()
	require.Equal(t, 3, missed)

	res, err := e.TryUseStreakFreezers(ctx, missed)
	require.NoError(t, err)
	assert.True(t, res.Ongoing)
	assert.Equal(t, 3, res.FreezersUsed)
	assert.Equal(t, 1, res.LastStreak)

	p := e.Profile()
	assert.Equal(t, 2, p.Inventory[ItemStreakFreezer])
	assert.Equal(t, 1, p.Streak.Current, "streak survives")
	assert.Equal(t, clock.now.AddDate(0, 0, -1).Format(DateFormat), p.Streak.LastCompleted,
		"bridged up to yesterday")
	assert.Equal(t, 0, e.CheckStreakFailed(), "nothing missed after bridging")
}

func TestTryUseStreakFreezers_FailureConsumesNothing(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := e.ContinueStreak(ctx)
		require.NoError(t, err)
		clock.advance(24 * time.Hour)
	}
	require.Equal(t, 4, e.Profile().Streak.Current)
	require.NoError(t, e.GrantItems(ctx, map[Item]int{ItemStreakFreezer: 1}))

	clock.advance(3 * 24 * time.Hour)
	missed := e.CheckStreakFailed()
	require.Equal(t, 3, missed)

	res, err := e.TryUseStreakFreezers(ctx, missed)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, 4, res.StreakDaysLost)

	p := e.Profile()
	assert.Equal(t, 1, p.Inventory[ItemStreakFreezer], "partial cover never consumes")
	assert.Equal(t, 0, p.Streak.Current)
	assert.Empty(t, p.Streak.LastCompleted)
	assert.Equal(t, 4, p.Streak.Longest)
	assert.Contains(t, p.Streak.FailureHistory, clock.now.Format(DateFormat))
}

func TestOnQuestCompleted_GrantsAndLedger(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	e, st := newTestEngine(t, clock)
	ctx := context.Background()

	q := quest.New("Read", quest.KindDeepFocus, "{}", []int{1, 2, 3, 4, 5, 6, 7},
		quest.TimeRange{StartHour: 0, EndHour: 24}, 15)

	out, err := e.OnQuestCompleted(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, XPPerQuest, out.XPGranted)
	assert.Equal(t, 15, out.CoinsGranted)
	assert.True(t, out.StreakAdvanced)
	assert.Equal(t, 1, out.CurrentStreak)

	p := e.Profile()
	assert.Equal(t, XPPerQuest, p.XP)
	assert.Equal(t, 15, p.Coins)
	require.Len(t, st.stats, 1)
	assert.Equal(t, q.ID, st.stats[0].QuestID)
	assert.Equal(t, clock.now.Format(DateFormat), st.stats[0].Date)

	// A second quest the same day still grants but cannot re-advance the streak.
	out, err = e.OnQuestCompleted(ctx, q)
	require.NoError(t, err)
	assert.False(t, out.StreakAdvanced)
	assert.Equal(t, 1, out.CurrentStreak)
	assert.Len(t, st.stats, 2)
}

func TestOnDailyRollover(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	e, _ := newTestEngine(t, clock)
	ctx := context.Background()

	_, err := e.ContinueStreak(ctx)
	require.NoError(t, err)
	require.NoError(t, e.GrantItems(ctx, map[Item]int{ItemStreakFreezer: 2}))

	// Grace day: nothing to settle.
	clock.advance(24 * time.Hour)
	out, err := e.OnDailyRollover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, out.DaysMissed)
	assert.Nil(t, out.Freezers)

	// Two missed days are bridged by the two freezers.
	clock.advance(2 * 24 * time.Hour)
	out, err = e.OnDailyRollover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, out.DaysMissed)
	require.NotNil(t, out.Freezers)
	assert.True(t, out.Freezers.Ongoing)
	assert.Equal(t, 2, out.Freezers.FreezersUsed)
	assert.Equal(t, 0, e.Profile().Inventory[ItemStreakFreezer])
}

func TestSetChangedFunc_FiresAfterPersist(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeClock{now: time.Now()})

	fired := make(chan struct{}, 8)
	e.SetChangedFunc(func() { fired <- struct{}{} })

	require.NoError(t, e.AddCoins(context.Background(), 5))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("changed callback never fired")
	}
}

func TestProfileSnapshot_IsACopy(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeClock{now: time.Now()})
	ctx := context.Background()
	require.NoError(t, e.GrantItems(ctx, map[Item]int{ItemStreakFreezer: 1}))

	snap := e.Profile()
	snap.Inventory[ItemStreakFreezer] = 99

	assert.Equal(t, 1, e.Profile().Inventory[ItemStreakFreezer],
		"mutating a snapshot must not leak into the engine")
}

func TestCalculateLevelUpRewards(t *testing.T) {
	t.Parallel()

	r := CalculateLevelUpRewards(4)
	assert.Equal(t, 1, r[ItemStreakFreezer])
	assert.Zero(t, r[ItemXPBooster])

	r = CalculateLevelUpRewards(5)
	assert.Equal(t, 1, r[ItemStreakFreezer])
	assert.Equal(t, 1, r[ItemXPBooster], "every fifth level grants a booster")
}

func TestDaysBetween(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	a := time.Date(2026, 2, 1, 23, 59, 0, 0, loc)
	b := time.Date(2026, 2, 2, 0, 1, 0, 0, loc)
	assert.Equal(t, 1, DaysBetween(a, b), "boundary crossing counts regardless of hours")

	assert.Equal(t, 0, DaysBetween(b, b.Add(23*time.Hour)))
	assert.Equal(t, 7, DaysBetween(b, b.AddDate(0, 0, 7)))
}
