package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/marminbh/popup-pos/internal/models"
)

type PostgresPendingEventRepository struct {
	db *gorm.DB
}

func NewPostgresPendingEventRepository(db *gorm.DB) *PostgresPendingEventRepository {
	return &PostgresPendingEventRepository{db: db}
}

func (r *PostgresPendingEventRepository) Enqueue(ctx context.Context, email string, points, maxAttempts int) (*models.PendingLoyaltyEvent, error) {
	now := time.Now().UTC()
	event := &models.PendingLoyaltyEvent{
		ID:            uuid.New(),
		Email:         email,
		Points:        points,
		Status:        models.OutboxStatusPending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, fmt.Errorf("failed to store pending loyalty event: %w", err)
	}
	return event, nil
}

func (r *PostgresPendingEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PendingLoyaltyEvent, error) {
	var event models.PendingLoyaltyEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending loyalty event: %w", err)
	}
	return &event, nil
}

func (r *PostgresPendingEventRepository) ClaimDue(
	ctx context.Context,
	now time.Time,
	limit int,
	fn func(tx PendingEventTx, events []models.PendingLoyaltyEvent) error,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []models.PendingLoyaltyEvent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ?", models.OutboxStatusPending, now).
			Order("next_attempt_at ASC").
			Limit(limit).
			Find(&events).Error
		if err != nil {
			return fmt.Errorf("failed to select due pending events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		return fn(&pendingEventTx{tx: tx}, events)
	})
}

type pendingEventTx struct {
	tx  *gorm.DB
	seq int
}

// update runs inside its own savepoint so one failed write does not abort
// the updates already made for other events in the batch.
func (p *pendingEventTx) update(id uuid.UUID, updates map[string]interface{}) error {
	p.seq++
	savepoint := fmt.Sprintf("pending_event_%d", p.seq)
	if err := p.tx.SavePoint(savepoint).Error; err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	updates["updated_at"] = time.Now().UTC()
	err := p.tx.Model(&models.PendingLoyaltyEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		if rbErr := p.tx.RollbackTo(savepoint).Error; rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return fmt.Errorf("failed to update pending event %s: %w", id, err)
	}
	return nil
}

func (p *pendingEventTx) MarkPublished(id uuid.UUID, attemptCount int) error {
	return p.update(id, map[string]interface{}{
		"status":        models.OutboxStatusPublished,
		"attempt_count": attemptCount,
	})
}

func (p *pendingEventTx) Reschedule(id uuid.UUID, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	return p.update(id, map[string]interface{}{
		"status":          models.OutboxStatusPending,
		"attempt_count":   attemptCount,
		"next_attempt_at": nextAttemptAt,
		"last_error":      lastError,
	})
}

func (p *pendingEventTx) MarkFailed(id uuid.UUID, attemptCount int, lastError string) error {
	return p.update(id, map[string]interface{}{
		"status":        models.OutboxStatusFailed,
		"attempt_count": attemptCount,
		"last_error":    lastError,
	})
}
