package models

import "time"

// Notification is written by the fanout worker when a chat event is consumed.
// EntityKind/EntityID form a tagged reference so one table can point at
// sessions, trips or posts without runtime type lookup.
type Notification struct {
	ID         string    `gorm:"primaryKey;size:26"`
	Recipient  uint64    `gorm:"index;not null"`
	Type       string    `gorm:"type:varchar(32);not null"`
	Text       string    `gorm:"type:text"`
	EntityKind string    `gorm:"type:varchar(32);index:idx_notif_entity,priority:1"`
	EntityID   string    `gorm:"type:varchar(64);index:idx_notif_entity,priority:2"`
	Read       bool      `gorm:"not null;default:false"`
	CreatedAt  time.Time
}

func (Notification) TableName() string { return "notifications" }
