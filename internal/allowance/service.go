package allowance

import (
	"context"
	"fmt"

	"time"

	"github.com/kolapsis/questlock/internal/economy"
)

// UsageSource provides per-app usage history, newest day first.
type UsageSource interface {
	PastNDaysUsage(ctx context.Context, packageName string, n int) ([]time.Duration, error)
}

// ProfileSource exposes the current economy state. The engine satisfies it.
type ProfileSource interface {
	Profile() economy.Profile
}

// Service binds the pure calculation to the local usage table and the
// user's profile.
type Service struct {
	usage   UsageSource
	profile ProfileSource
	clock   economy.Clock
}

// NewService creates an allowance service.
func NewService(usage UsageSource, profile ProfileSource, clock economy.Clock) *Service {
	if clock == nil {
		clock = economy.SystemClock{}
	}
	return &Service{usage: usage, profile: profile, clock: clock}
}

// ForApp computes today's free-unlock quota for the given package.
func (s *Service) ForApp(ctx context.Context, packageName string) (int, error) {
	usage, err := s.usage.PastNDaysUsage(ctx, packageName, WindowDays)
	if err != nil {
		return 0, fmt.Errorf("loading usage history for %s: %w", packageName, err)
	}

	p := s.profile.Profile()
	return Calculate(Input{
		Usage:          usage,
		Streak:         p.Streak.Current,
		Level:          p.Level,
		AccountAgeDays: p.AccountAgeDays(s.clock.Now()),
	}), nil
}
