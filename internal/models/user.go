package models

import "time"

type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(100);not null" json:"-"`
	FirstName    string    `gorm:"type:varchar(64)" json:"first_name"`
	LastName     string    `gorm:"type:varchar(64)" json:"last_name"`
	Country      string    `gorm:"type:varchar(64)" json:"country"`
	TravelStyle  string    `gorm:"type:varchar(64)" json:"travel_style"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
