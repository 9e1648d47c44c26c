package syncer

import "github.com/kolapsis/questlock/internal/quest"

// questRow is the wire shape of a quest in the remote table. It is the
// local record plus the owning user id; the synced flag never leaves the
// device.
type questRow struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Title         string `json:"title"`
	Instructions  string `json:"instructions"`
	IntegrationID string `json:"integration_id"`
	QuestJSON     string `json:"quest_json"`
	SelectedDays  []int  `json:"selected_days"`
	StartHour     int    `json:"start_hour"`
	EndHour       int    `json:"end_hour"`
	Reward        int    `json:"reward"`
	IsDestroyed   bool   `json:"is_destroyed"`
	LastCompleted string `json:"last_completed_on"`
	LastUpdated   int64  `json:"last_updated"`
}

func toQuestRow(r *quest.Record, userID string) questRow {
	return questRow{
		ID:            r.ID,
		UserID:        userID,
		Title:         r.Title,
		Instructions:  r.Instructions,
		IntegrationID: string(r.IntegrationID),
		QuestJSON:     r.QuestJSON,
		SelectedDays:  r.SelectedDays,
		StartHour:     r.TimeRange.StartHour,
		EndHour:       r.TimeRange.EndHour,
		Reward:        r.Reward,
		IsDestroyed:   r.IsDestroyed,
		LastCompleted: r.LastCompleted,
		LastUpdated:   r.LastUpdated,
	}
}

func (row questRow) toRecord() *quest.Record {
	return &quest.Record{
		ID:            row.ID,
		Title:         row.Title,
		Instructions:  row.Instructions,
		IntegrationID: quest.Kind(row.IntegrationID),
		QuestJSON:     row.QuestJSON,
		SelectedDays:  row.SelectedDays,
		TimeRange:     quest.TimeRange{StartHour: row.StartHour, EndHour: row.EndHour},
		Reward:        row.Reward,
		IsDestroyed:   row.IsDestroyed,
		LastCompleted: row.LastCompleted,
		LastUpdated:   row.LastUpdated,
		Synced:        true,
	}
}

// statRow is the wire shape of one completion-ledger entry.
type statRow struct {
	ID      string `json:"id"`
	QuestID string `json:"quest_id"`
	UserID  string `json:"user_id"`
	Date    string `json:"date"`
}

func toStatRow(s *quest.Stat) statRow {
	return statRow{ID: s.ID, QuestID: s.QuestID, UserID: s.UserID, Date: s.Date}
}

func (row statRow) toStat() *quest.Stat {
	return &quest.Stat{ID: row.ID, QuestID: row.QuestID, UserID: row.UserID, Date: row.Date, Synced: true}
}
