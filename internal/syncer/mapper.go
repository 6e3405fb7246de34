package syncer

import (
	"strings"
	"time"

	"usage-telemetry-agent/internal/collector"
	"usage-telemetry-agent/internal/model"
)

// Notional hourly rate backing the economic value estimate.
const baselineHourlyRate = 25.0

// The collector requires a numeric user id even for anonymous submissions.
const anonymousUserID int64 = 1

// Mapper converts local usage records into the collector's wire shape.
// Pure: no I/O, deterministic for a given record and identity.
type Mapper struct {
	// Stable per-install device identifier, supplied by the host.
	DeviceID string
}

// ToWireRecord maps one record, tagging it with the study identity.
func (m Mapper) ToWireRecord(rec model.UsageRecord, identity string) collector.WireRecord {
	interaction := "completed"
	if rec.IsActive {
		interaction = "active"
	}

	score := ProductivityScore(rec.AppCategory, rec.Duration)
	start := timeBreakdown(rec.StartTime)
	userID := anonymousUserID

	return collector.WireRecord{
		TenantID:              identity,
		UserID:                &userID,
		DeviceID:              m.DeviceID,
		AppPackageName:        rec.AppPackage,
		AppName:               rec.AppName,
		Category:              rec.AppCategory,
		UsageTimeMs:           rec.Duration,
		Timestamp:             start,
		LastTimeUsed:          timeBreakdown(rec.EndTime),
		FirstTimeStamp:        start,
		LaunchCount:           1,
		TotalTimeInForeground: rec.Duration,
		SessionID:             rec.SessionID,
		InteractionType:       interaction,
		ScreenTimeMinutes:     float64(rec.Duration) / 60000.0,
		ProductivityScore:     score,
		EconomicValue:         EconomicValue(score, rec.Duration),
	}
}

// ToWireBatch maps a slice of records.
func (m Mapper) ToWireBatch(records []model.UsageRecord, identity string) []collector.WireRecord {
	batch := make([]collector.WireRecord, len(records))
	for i, rec := range records {
		batch[i] = m.ToWireRecord(rec, identity)
	}
	return batch
}

// ProductivityScore is a piecewise function of category and duration.
// Category matching is case-insensitive substring containment, evaluated in
// priority order; first match wins.
func ProductivityScore(category string, durationMillis int64) float64 {
	cat := strings.ToLower(category)
	minutes := float64(durationMillis) / 60000.0

	switch {
	case strings.Contains(cat, "productivity") || strings.Contains(cat, "work"):
		// Diminishing returns after two hours.
		return min(1.0, minutes/120.0)
	case strings.Contains(cat, "social") || strings.Contains(cat, "entertainment"):
		// Negative past one hour, floored at -0.5.
		return max(-0.5, 0.3-(minutes/60.0)*0.1)
	case strings.Contains(cat, "education") || strings.Contains(cat, "news"):
		return min(0.8, minutes/90.0)
	default:
		return 0.0
	}
}

// EconomicValue converts a productivity score and duration into a notional
// dollar estimate at the baseline hourly rate.
func EconomicValue(productivityScore float64, durationMillis int64) float64 {
	hours := float64(durationMillis) / 3600000.0
	return productivityScore * hours * baselineHourlyRate
}

// FilterForSync retains records no older than maxAgeHours and, unless
// includeActive is set, only closed ones. This is the alternate, window-based
// selection strategy; the default outbox strategy filters on the synced flag
// at the store layer instead.
func FilterForSync(records []model.UsageRecord, includeActive bool, maxAgeHours int, now time.Time) []model.UsageRecord {
	cutoff := now.Add(-time.Duration(maxAgeHours) * time.Hour)

	var kept []model.UsageRecord
	for _, rec := range records {
		if rec.StartTime.Before(cutoff) {
			continue
		}
		if !includeActive && rec.IsActive {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

// timeBreakdown encodes an instant as the collector's calendar array:
// [year, month, day, hour, minute, second].
func timeBreakdown(t time.Time) []int {
	return []int{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()}
}
