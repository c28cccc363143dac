package models

import (
	"time"

	"github.com/google/uuid"
)

// Outbox statuses
const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

// PendingLoyaltyEvent is a loyalty event whose publish failed at payment time
// and is waiting to be replayed onto the queue.
type PendingLoyaltyEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Email         string    `gorm:"not null" json:"email"`
	Points        int       `gorm:"not null" json:"unikko_points"`
	Status        string    `gorm:"not null;default:'pending'" json:"status"`
	AttemptCount  int       `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts   int       `gorm:"not null;default:8" json:"max_attempts"`
	NextAttemptAt time.Time `gorm:"not null;default:now()" json:"next_attempt_at"`
	LastError     *string   `json:"last_error"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (PendingLoyaltyEvent) TableName() string {
	return "pending_loyalty_events"
}
