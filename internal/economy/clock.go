package economy

import "time"

// Clock abstracts wall time so calendar-day logic is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real local clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// DaysBetween returns the number of calendar-day boundaries crossed between
// a and b in b's location. Time of day is ignored: 23:59 to 00:01 next day
// is one day.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	start := time.Date(ay, am, ad, 0, 0, 0, 0, b.Location())
	end := time.Date(by, bm, bd, 0, 0, 0, 0, b.Location())
	return int(end.Sub(start).Hours() / 24)
}
