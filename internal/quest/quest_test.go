package quest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsDirtyWithFreshID(t *testing.T) {
	t.Parallel()

	q := New("Morning run", KindHealthGoal, `{"metric":"steps","target":8000}`,
		[]int{1, 3, 5}, TimeRange{StartHour: 6, EndHour: 12}, 10)

	assert.NotEmpty(t, q.ID)
	assert.False(t, q.Synced, "new quests must be pushed")
	assert.NotZero(t, q.LastUpdated)
	require.NoError(t, q.Validate())
}

func TestValidate_RejectsBadRecords(t *testing.T) {
	t.Parallel()

	base := func() *Record {
		return &Record{
			ID:            "q1",
			IntegrationID: KindDeepFocus,
			SelectedDays:  []int{1, 2},
			TimeRange:     TimeRange{StartHour: 8, EndHour: 20},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"missing id", func(r *Record) { r.ID = "" }},
		{"no selected days", func(r *Record) { r.SelectedDays = nil }},
		{"weekday zero", func(r *Record) { r.SelectedDays = []int{0} }},
		{"weekday eight", func(r *Record) { r.SelectedDays = []int{8} }},
		{"inverted time range", func(r *Record) { r.TimeRange = TimeRange{StartHour: 20, EndHour: 8} }},
		{"end past midnight", func(r *Record) { r.TimeRange = TimeRange{StartHour: 0, EndHour: 25} }},
		{"unknown integration", func(r *Record) { r.IntegrationID = "mystery" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := base()
			tt.mutate(r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestValidate_DestroyedQuestNeedsNoDays(t *testing.T) {
	t.Parallel()

	r := &Record{ID: "q1", IntegrationID: KindAiSnap, IsDestroyed: true}
	assert.NoError(t, r.Validate())
}

func TestTouch_NeverMovesBackwards(t *testing.T) {
	t.Parallel()

	r := &Record{ID: "q1", LastUpdated: 5000}
	r.Touch(time.UnixMilli(1000)) // wall clock went backwards

	assert.Equal(t, int64(5001), r.LastUpdated)
	assert.False(t, r.Synced)

	r.Synced = true
	r.Touch(time.UnixMilli(9000))
	assert.Equal(t, int64(9000), r.LastUpdated)
	assert.False(t, r.Synced)
}

func TestDestroy_SoftDeletesAndDirties(t *testing.T) {
	t.Parallel()

	r := &Record{ID: "q1", Synced: true, LastUpdated: 100}
	r.Destroy(time.Now())

	assert.True(t, r.IsDestroyed)
	assert.False(t, r.Synced)
	assert.Greater(t, r.LastUpdated, int64(100))
}

func TestMarkCompleted_SetsCalendarDay(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 14, 22, 15, 0, 0, time.UTC)
	r := &Record{ID: "q1"}

	assert.False(t, r.CompletedOn(day))
	r.MarkCompleted(day)
	assert.Equal(t, "2026-03-14", r.LastCompleted)
	assert.True(t, r.CompletedOn(day))
	assert.False(t, r.CompletedOn(day.AddDate(0, 0, 1)))
}

func TestDueToday(t *testing.T) {
	t.Parallel()

	// 2026-03-16 is a Monday.
	monday10 := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	r := &Record{
		ID:            "q1",
		IntegrationID: KindDeepFocus,
		SelectedDays:  []int{1, 7}, // Monday and Sunday
		TimeRange:     TimeRange{StartHour: 9, EndHour: 17},
	}

	assert.True(t, r.DueToday(monday10))
	assert.False(t, r.DueToday(monday10.Add(8*time.Hour)), "outside time window")
	assert.False(t, r.DueToday(monday10.AddDate(0, 0, 1)), "Tuesday not selected")
	assert.True(t, r.DueToday(monday10.AddDate(0, 0, 6)), "Sunday maps to ISO 7")

	r.IsDestroyed = true
	assert.False(t, r.DueToday(monday10))
}

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		kind Kind
		json string
		want Payload
	}{
		{
			"deep focus", KindDeepFocus,
			`{"target_minutes":45,"blocked_apps":["com.example.feed"]}`,
			DeepFocusPayload{TargetMinutes: 45, BlockedApps: []string{"com.example.feed"}},
		},
		{
			"health goal", KindHealthGoal,
			`{"metric":"steps","target":10000}`,
			HealthGoalPayload{Metric: "steps", Target: 10000},
		},
		{
			"ai snap", KindAiSnap,
			`{"prompt":"a made bed"}`,
			AiSnapPayload{Prompt: "a made bed"},
		},
		{
			"external", KindExternalIntegration,
			`{"provider":"fitness","ref":"workout-42"}`,
			ExternalIntegrationPayload{Provider: "fitness", Ref: "workout-42"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &Record{ID: "q1", IntegrationID: tt.kind, QuestJSON: tt.json}
			p, err := r.DecodePayload()
			require.NoError(t, err)
			assert.Equal(t, tt.want, p)
			assert.Equal(t, tt.kind, p.Kind())
		})
	}
}

func TestDecodePayload_Errors(t *testing.T) {
	t.Parallel()

	r := &Record{ID: "q1", IntegrationID: KindDeepFocus, QuestJSON: "{not json"}
	_, err := r.DecodePayload()
	assert.Error(t, err)

	r = &Record{ID: "q1", IntegrationID: "mystery", QuestJSON: "{}"}
	_, err = r.DecodePayload()
	assert.Error(t, err)
}
