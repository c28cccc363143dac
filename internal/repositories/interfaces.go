package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/marminbh/popup-pos/internal/models"
)

var ErrNotFound = errors.New("not found")

// AttemptFilter narrows a sync attempt listing. An empty Email lists all.
type AttemptFilter struct {
	Email  string
	Limit  int
	Offset int
}

type SyncAttemptRepository interface {
	// Record stores one attempt. AttemptNo is assigned from the attempts
	// already stored for the same message when left at zero.
	Record(ctx context.Context, attempt *models.SyncAttemptLog) error
	// List returns attempts newest first and whether more rows follow.
	List(ctx context.Context, filter AttemptFilter) ([]models.SyncAttemptLog, bool, error)
}

type PendingEventRepository interface {
	Enqueue(ctx context.Context, email string, points, maxAttempts int) (*models.PendingLoyaltyEvent, error)
	// ClaimDue locks up to limit due rows for the duration of fn. Rows locked
	// by another replayer are skipped.
	ClaimDue(ctx context.Context, now time.Time, limit int, fn func(tx PendingEventTx, events []models.PendingLoyaltyEvent) error) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PendingLoyaltyEvent, error)
}

// PendingEventTx updates claimed rows inside the claiming transaction
type PendingEventTx interface {
	MarkPublished(id uuid.UUID, attemptCount int) error
	Reschedule(id uuid.UUID, attemptCount int, nextAttemptAt time.Time, lastError string) error
	MarkFailed(id uuid.UUID, attemptCount int, lastError string) error
}
