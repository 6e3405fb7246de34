package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usage-telemetry-agent/internal/model"
)

func TestProductivityScore(t *testing.T) {
	testCases := []struct {
		name     string
		category string
		duration int64
		expected float64
	}{
		{"productivity short session", "Productivity", 90 * 1000, 0.0125},
		{"productivity caps at one", "Productivity", 5 * 60 * 60 * 1000, 1.0},
		{"work matches productivity branch", "Work Tools", 120 * 60 * 1000, 1.0},
		{"social short session stays positive", "Social", 30 * 60 * 1000, 0.25},
		{"social long session goes negative", "Social", 4 * 60 * 60 * 1000, -0.1},
		{"social floors at minus half", "Social", 24 * 60 * 60 * 1000, -0.5},
		{"entertainment uses social branch", "Entertainment", 30 * 60 * 1000, 0.25},
		{"education caps at point eight", "Education", 3 * 60 * 60 * 1000, 0.8},
		{"news uses education branch", "News Reader", 45 * 60 * 1000, 0.5},
		{"unknown category is neutral", "Gaming", 60 * 60 * 1000, 0.0},
		{"empty category is neutral", "", 60 * 60 * 1000, 0.0},
		{"case insensitive", "PRODUCTIVITY", 90 * 1000, 0.0125},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, ProductivityScore(tc.category, tc.duration), 1e-9)
		})
	}
}

func TestEconomicValue(t *testing.T) {
	// 90s of productivity: score 0.0125, 0.025h at the baseline rate.
	assert.InDelta(t, 0.0078125, EconomicValue(0.0125, 90*1000), 1e-9)
	assert.Zero(t, EconomicValue(0.0, 60*60*1000))

	// A negative score yields a negative value.
	assert.InDelta(t, -12.5, EconomicValue(-0.5, 60*60*1000), 1e-9)
}

func TestMapper_ToWireRecord(t *testing.T) {
	start := time.Date(2026, time.March, 15, 9, 30, 45, 0, time.Local)
	end := start.Add(90 * time.Second)
	rec := model.UsageRecord{
		ID:          7,
		UserID:      "default_user",
		SessionID:   "session_1_abc",
		AppPackage:  "com.example.notes",
		AppName:     "Notes",
		AppCategory: "Productivity",
		StartTime:   start,
		EndTime:     end,
		Duration:    90 * 1000,
		IsActive:    false,
	}

	m := Mapper{DeviceID: "device-42"}
	wire := m.ToWireRecord(rec, "study-001")

	assert.Equal(t, "study-001", wire.TenantID)
	require.NotNil(t, wire.UserID)
	assert.Equal(t, int64(1), *wire.UserID)
	assert.Equal(t, "device-42", wire.DeviceID)
	assert.Equal(t, "com.example.notes", wire.AppPackageName)
	assert.Equal(t, "Notes", wire.AppName)
	assert.Equal(t, "Productivity", wire.Category)
	assert.Equal(t, int64(90*1000), wire.UsageTimeMs)
	assert.Equal(t, []int{2026, 3, 15, 9, 30, 45}, wire.Timestamp)
	assert.Equal(t, []int{2026, 3, 15, 9, 32, 15}, wire.LastTimeUsed)
	assert.Equal(t, wire.Timestamp, wire.FirstTimeStamp)
	assert.Equal(t, 1, wire.LaunchCount)
	assert.Equal(t, int64(90*1000), wire.TotalTimeInForeground)
	assert.Equal(t, "session_1_abc", wire.SessionID)
	assert.Equal(t, "completed", wire.InteractionType)
	assert.InDelta(t, 1.5, wire.ScreenTimeMinutes, 1e-9)
	assert.InDelta(t, 0.0125, wire.ProductivityScore, 1e-9)
	assert.InDelta(t, 0.0078125, wire.EconomicValue, 1e-9)
}

func TestMapper_ToWireRecord_ActiveSession(t *testing.T) {
	rec := model.UsageRecord{
		AppPackage: "com.example.app",
		StartTime:  time.Now(),
		IsActive:   true,
	}

	wire := Mapper{}.ToWireRecord(rec, "study-001")
	assert.Equal(t, "active", wire.InteractionType)
}

func TestFilterForSync(t *testing.T) {
	now := time.Now()
	records := []model.UsageRecord{
		{ID: 1, StartTime: now.Add(-1 * time.Hour)},
		{ID: 2, StartTime: now.Add(-2 * time.Hour), IsActive: true},
		{ID: 3, StartTime: now.Add(-48 * time.Hour)},
	}

	closedRecent := FilterForSync(records, false, 24, now)
	if assert.Len(t, closedRecent, 1) {
		assert.Equal(t, int64(1), closedRecent[0].ID)
	}

	withActive := FilterForSync(records, true, 24, now)
	assert.Len(t, withActive, 2)

	assert.Empty(t, FilterForSync(nil, true, 24, now))
}
