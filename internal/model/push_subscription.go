package model

import "time"

// PushSubscription holds a browser push subscription for a dashboard that
// wants to be notified about sync outcomes on this device.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
