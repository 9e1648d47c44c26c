// Package allowance derives the daily free-unlock quota for a blocked app
// from a rolling window of usage history and the user's progression. The
// calculation is a pure function: identical inputs always produce the
// identical quota.
package allowance

import (
	"math"
	"time"
)

// WindowDays is the size of the usage history window.
const WindowDays = 7

// FallbackAllowance is returned while fewer than WindowDays of history exist.
const FallbackAllowance = 3

// weights over the usage window, newest day first. Today weighs heaviest.
var weights = [WindowDays]float64{0.25, 0.20, 0.15, 0.15, 0.10, 0.10, 0.05}

// Input is everything the calculation depends on.
type Input struct {
	// Usage holds per-day usage of the app, newest first (Usage[0] is
	// today). Fewer than WindowDays entries triggers the fallback.
	Usage []time.Duration

	Streak         int
	Level          int
	AccountAgeDays int
}

// Calculate returns today's free-unlock quota for one app.
// With a full window the result is always within [1, 10].
func Calculate(in Input) int {
	if len(in.Usage) < WindowDays {
		return FallbackAllowance
	}

	level := in.Level
	if level < 1 {
		level = 1
	}

	weighted := 0.0
	for i := 0; i < WindowDays; i++ {
		weighted += in.Usage[i].Minutes() * weights[i]
	}

	// Improving: today is noticeably below the average of the prior days.
	prior := 0.0
	for i := 1; i < WindowDays; i++ {
		prior += in.Usage[i].Minutes()
	}
	prior /= float64(WindowDays - 1)
	improving := in.Usage[0].Minutes() < prior-1

	consistent := in.Streak >= 2+level/2

	generosity := generosityMultiplier(in.AccountAgeDays)
	difficulty := 2.0 + float64(level)*0.25

	base := (weighted / difficulty) * generosity
	if improving {
		base++
	}
	if consistent {
		base++
	}

	cap := dynamicCap(in.Usage[1], improving, generosity)

	return clamp(int(math.Round(base)), 1, cap)
}

// generosityMultiplier starts new accounts generous and decays by a tenth
// per week of use, floored at 0.5.
func generosityMultiplier(ageDays int) float64 {
	if ageDays < 7 {
		return 2.0
	}
	weeks := float64(ageDays) / 7.0
	return math.Max(1.5-0.1*weeks, 0.5)
}

// dynamicCap grants roughly one unlock per ten minutes of yesterday's
// usage, tightened when the trend is improving, clamped to [2, 10].
func dynamicCap(yesterday time.Duration, improving bool, generosity float64) int {
	perUsage := yesterday.Hours() * 60 / 10

	trend := 1.0
	if improving {
		trend = 0.75
	}
	decay := generosity / 2.0

	return clamp(int(math.Round(perUsage*trend*decay)), 2, 10)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
