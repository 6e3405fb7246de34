package model

import "time"

// Setting is a keyed scalar persisted outside the usage record table.
// Holds the study identity, the last-sync timestamp and the auto-sync flag.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Setting keys used by the sync coordinator.
const (
	SettingStudyID         = "study_id"
	SettingLastSyncMillis  = "last_sync_timestamp"
	SettingAutoSyncEnabled = "auto_sync_enabled"
)
