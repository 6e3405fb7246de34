package model

import "time"

// UsageRecord is one observed foreground interval for a single application.
// A record is open (IsActive=true, EndTime==StartTime, Duration=0) while the
// app is still in the foreground, closed exactly once by the tracker, and
// marked synced exactly once by the sync coordinator after the collector
// accepts it. Synced records are pruned in the same sync pass.
type UsageRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string    `gorm:"index;index:idx_user_start,priority:1;size:128;not null" json:"userId"`
	SessionID  string    `gorm:"index;size:128;not null" json:"sessionId"`
	AppPackage string    `gorm:"index;size:256;not null" json:"appPackage"`
	AppName    string    `gorm:"size:256;not null" json:"appName"`
	StartTime  time.Time `gorm:"index;index:idx_user_start,priority:2;not null" json:"startTime"`
	EndTime    time.Time `gorm:"not null" json:"endTime"`
	Duration   int64     `gorm:"not null" json:"duration"` // milliseconds; authoritative once closed
	IsActive   bool      `gorm:"not null" json:"isActive"`
	IsSynced   bool      `gorm:"not null" json:"isSynced"`

	// Context captured at session start, immutable afterwards.
	AppCategory       string `gorm:"size:64" json:"appCategory,omitempty"`
	DeviceOrientation string `gorm:"size:16" json:"deviceOrientation,omitempty"`
	BatteryLevel      *int   `json:"batteryLevel,omitempty"`
	NetworkType       string `gorm:"size:32" json:"networkType,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// AppUsageSummary is the per-app aggregate returned by the summary query.
type AppUsageSummary struct {
	AppPackage    string  `json:"appPackage"`
	AppName       string  `json:"appName"`
	TotalDuration int64   `json:"totalDuration"`
	SessionCount  int64   `json:"sessionCount"`
	AvgDuration   float64 `json:"avgDuration"`
}
