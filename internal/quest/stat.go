package quest

import (
	"time"

	"github.com/google/uuid"
)

// Stat is one quest-completion event. The ledger is append-only: after
// creation only the Synced flag ever changes.
type Stat struct {
	ID      string `json:"id"`
	QuestID string `json:"quest_id"`
	UserID  string `json:"user_id"`
	Date    string `json:"date"` // DateFormat
	Synced  bool   `json:"-"`
}

// NewStat records a completion of the given quest on the given day.
func NewStat(questID, userID string, day time.Time) *Stat {
	return &Stat{
		ID:      uuid.NewString(),
		QuestID: questID,
		UserID:  userID,
		Date:    day.Format(DateFormat),
	}
}
