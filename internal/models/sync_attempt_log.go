package models

import (
	"time"
)

// Sync attempt outcomes
const (
	SyncStatusSucceeded    = "succeeded"
	SyncStatusFailed       = "failed"
	SyncStatusDeadLettered = "dead_lettered"
)

type SyncAttemptLog struct {
	ID           int64     `gorm:"primary_key;autoIncrement" json:"id"`
	MessageID    string    `gorm:"not null;index" json:"message_id"`
	Email        string    `gorm:"not null;index" json:"email"`
	Points       int       `gorm:"not null" json:"unikko_points"`
	AttemptNo    int       `gorm:"not null" json:"attempt_no"`
	Status       string    `gorm:"not null" json:"status"`
	CustomerID   *string   `json:"customer_id"`
	TotalPoints  *int      `gorm:"type:integer" json:"total_unikko_points"`
	LoyaltyLevel *string   `json:"loyalty_level"`
	Error        *string   `gorm:"type:text" json:"error"`
	StartedAt    time.Time `gorm:"not null" json:"started_at"`
	FinishedAt   time.Time `gorm:"not null" json:"finished_at"`
	CreatedAt    time.Time `gorm:"default:now()" json:"created_at"`
}

func (SyncAttemptLog) TableName() string {
	return "sync_attempt_log"
}
