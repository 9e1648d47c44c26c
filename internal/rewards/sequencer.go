// Package rewards sequences the dialog chain shown after a mutation:
// quest completed, then possibly one dialog per level gained, streak
// events in between. Entry actions carry the actual grants and fire
// exactly once per state entry, no matter how often the UI re-reads
// the current state.
package rewards

import (
	"context"
	"fmt"
	"sync"

	"github.com/kolapsis/questlock/internal/economy"
	"github.com/kolapsis/questlock/internal/events"
	"github.com/kolapsis/questlock/internal/quest"
)

// State is the dialog currently owed to the user.
type State string

const (
	StateNone              State = "none"
	StateQuestCompleted    State = "quest_completed"
	StateLevelUp           State = "level_up"
	StateStreakUp          State = "streak_up"
	StateStreakFreezerUsed State = "streak_freezer_used"
	StateStreakFailed      State = "streak_failed"
)

// Sequencer is a small finite state machine over the reward dialogs.
// One cycle starts from StateNone and ends back at StateNone; entering
// StateNone clears all transient counters.
type Sequencer struct {
	mu     sync.Mutex
	engine *economy.Engine
	hub    *events.Hub

	state State

	// pendingLevels is the number of level-up dialogs still owed.
	pendingLevels int
	// nextLevel is the level celebrated by the next LevelUp entry.
	nextLevel int
	// pendingStreak queues a StreakUp dialog after the quest dialog.
	pendingStreak bool
	// bridgedDays is the freezer back-fill carried into the
	// StreakFreezerUsed entry action.
	bridgedDays int
}

// NewSequencer creates a sequencer in StateNone.
func NewSequencer(engine *economy.Engine, hub *events.Hub) *Sequencer {
	return &Sequencer{engine: engine, hub: hub, state: StateNone}
}

// Current returns the state the UI should render. Reading it has no side
// effects; only transitions run entry actions.
func (s *Sequencer) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginQuestCompleted starts a reward cycle for a completed quest. The
// entry action grants the quest XP and coins through the engine. Calling
// it again while the dialog is still showing is a no-op.
func (s *Sequencer) BeginQuestCompleted(ctx context.Context, q *quest.Record) (economy.QuestOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateQuestCompleted {
		return economy.QuestOutcome{}, nil
	}
	if s.state != StateNone {
		return economy.QuestOutcome{}, fmt.Errorf("reward cycle already in progress (%s)", s.state)
	}

	out, err := s.engine.OnQuestCompleted(ctx, q)
	if err != nil {
		return economy.QuestOutcome{}, err
	}
	s.queueLevelsLocked(out.LevelsGained)
	s.pendingStreak = out.StreakAdvanced

	s.enterLocked(ctx, StateQuestCompleted)
	return out, nil
}

// BeginStreakFreezerUsed starts the dialog for a streak bridged by
// freezers. bridgedDays is the number of missed days that were forgiven.
func (s *Sequencer) BeginStreakFreezerUsed(ctx context.Context, bridgedDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStreakFreezerUsed {
		return nil
	}
	if s.state != StateNone {
		return fmt.Errorf("reward cycle already in progress (%s)", s.state)
	}
	s.bridgedDays = bridgedDays
	s.enterLocked(ctx, StateStreakFreezerUsed)
	return nil
}

// BeginStreakFailed starts the streak-lost dialog. No grants.
func (s *Sequencer) BeginStreakFailed(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStreakFailed {
		return nil
	}
	if s.state != StateNone {
		return fmt.Errorf("reward cycle already in progress (%s)", s.state)
	}
	s.enterLocked(ctx, StateStreakFailed)
	return nil
}

// Advance dismisses the current dialog and enters the next state in the
// chain. It returns the new state.
func (s *Sequencer) Advance(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateQuestCompleted:
		if s.pendingStreak {
			s.pendingStreak = false
			s.enterLocked(ctx, StateStreakUp)
		} else if s.pendingLevels > 0 {
			s.enterLocked(ctx, StateLevelUp)
		} else {
			s.enterLocked(ctx, StateNone)
		}
	case StateStreakUp, StateStreakFreezerUsed:
		if s.pendingLevels > 0 {
			s.enterLocked(ctx, StateLevelUp)
		} else {
			s.enterLocked(ctx, StateNone)
		}
	case StateLevelUp:
		if s.pendingLevels > 0 {
			// One dialog per level gained.
			s.enterLocked(ctx, StateLevelUp)
		} else {
			s.enterLocked(ctx, StateNone)
		}
	case StateStreakFailed:
		s.enterLocked(ctx, StateNone)
	case StateNone:
	}
	return s.state
}

// enterLocked transitions to the given state and runs its entry action
// exactly once. Callers hold s.mu.
func (s *Sequencer) enterLocked(ctx context.Context, next State) {
	s.state = next

	switch next {
	case StateNone:
		s.pendingLevels = 0
		s.nextLevel = 0
		s.pendingStreak = false
		s.bridgedDays = 0
	case StateStreakUp:
		// XP for the current streak day plus the grace day before it.
		levels, _ := s.engine.AddXp(ctx, 2*economy.XPPerStreakDay)
		s.queueLevelsLocked(levels)
	case StateStreakFreezerUsed:
		levels, _ := s.engine.AddXp(ctx, s.bridgedDays*economy.XPPerStreakDay)
		s.queueLevelsLocked(levels)
	case StateLevelUp:
		level := s.nextLevel
		s.pendingLevels--
		s.nextLevel++
		_ = s.engine.AddCoins(ctx, economy.CalculateLevelUpCoins(level))
		_ = s.engine.GrantItems(ctx, economy.CalculateLevelUpRewards(level))
	case StateQuestCompleted, StateStreakFailed:
		// Grants for quest completion happen in BeginQuestCompleted so
		// the outcome can be returned to the caller; failure has none.
	}

	if s.hub != nil {
		s.hub.Publish(events.Event{Type: events.TypeRewardState, ID: string(next)})
	}
}

// queueLevelsLocked registers freshly gained levels for the dialog chain.
func (s *Sequencer) queueLevelsLocked(gained int) {
	if gained <= 0 {
		return
	}
	finalLevel := s.engine.Profile().Level
	if s.pendingLevels == 0 {
		s.nextLevel = finalLevel - gained + 1
	}
	s.pendingLevels += gained
}
