package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/marminbh/popup-pos/internal/models"
)

type PostgresSyncAttemptRepository struct {
	db *gorm.DB
}

func NewPostgresSyncAttemptRepository(db *gorm.DB) *PostgresSyncAttemptRepository {
	return &PostgresSyncAttemptRepository{db: db}
}

func (r *PostgresSyncAttemptRepository) Record(ctx context.Context, attempt *models.SyncAttemptLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if attempt.AttemptNo == 0 {
			var previous int64
			if err := tx.Model(&models.SyncAttemptLog{}).
				Where("message_id = ?", attempt.MessageID).
				Count(&previous).Error; err != nil {
				return fmt.Errorf("failed to count previous attempts: %w", err)
			}
			attempt.AttemptNo = int(previous) + 1
		}

		if err := tx.Create(attempt).Error; err != nil {
			return fmt.Errorf("failed to create sync attempt log: %w", err)
		}
		return nil
	})
}

func (r *PostgresSyncAttemptRepository) List(ctx context.Context, filter AttemptFilter) ([]models.SyncAttemptLog, bool, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncAttemptLog{})
	if filter.Email != "" {
		query = query.Where("email = ?", filter.Email)
	}

	var attempts []models.SyncAttemptLog
	err := query.
		Order("created_at DESC, id DESC").
		Limit(filter.Limit + 1). // one extra row tells us whether more follow
		Offset(filter.Offset).
		Find(&attempts).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to list sync attempts: %w", err)
	}

	hasMore := len(attempts) > filter.Limit
	if hasMore {
		attempts = attempts[:filter.Limit]
	}
	return attempts, hasMore, nil
}
