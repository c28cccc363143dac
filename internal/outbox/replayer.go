package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/config"
	"github.com/marminbh/popup-pos/internal/models"
	"github.com/marminbh/popup-pos/internal/publisher"
	"github.com/marminbh/popup-pos/internal/repositories"
)

// Publisher puts a loyalty event on the queue
type Publisher interface {
	Publish(ctx context.Context, email string, points int) error
}

// Replayer stores loyalty events whose publish failed at payment time and
// republishes them on a timer until the broker accepts them.
type Replayer struct {
	cfg       *config.OutboxConfig
	repo      repositories.PendingEventRepository
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewReplayer(cfg *config.OutboxConfig, repo repositories.PendingEventRepository, publisher Publisher, logger *zap.Logger) *Replayer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Replayer{
		cfg:       cfg,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Enqueue stores an event for later replay
func (r *Replayer) Enqueue(ctx context.Context, email string, points int) (*models.PendingLoyaltyEvent, error) {
	event, err := r.repo.Enqueue(ctx, email, points, r.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}
	r.logger.Warn("Loyalty event deferred to outbox",
		zap.String("pending_event_id", event.ID.String()),
		zap.String("email", email),
		zap.Int("points", points),
	)
	return event, nil
}

// Start replays due events every ReplayInterval until Stop is called
func (r *Replayer) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.ReplayInterval)
		defer ticker.Stop()

		r.logger.Info("Outbox replayer started",
			zap.Duration("interval", r.cfg.ReplayInterval),
			zap.Int("batch_size", r.cfg.BatchSize),
		)
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.ReplayDue(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
					r.logger.Error("Outbox replay failed", zap.Error(err))
				}
			}
		}
	}()
}

func (r *Replayer) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("Outbox replayer stopped")
}

// ReplayDue republishes one batch of due events and returns how many the
// broker accepted. Rows claimed by another replayer are skipped. A failed
// status update is reported after the batch commits, so events the broker
// already accepted are not published again on the next tick.
func (r *Replayer) ReplayDue(ctx context.Context) (int, error) {
	now := r.now()
	published := 0
	var updateErrs []error

	err := r.repo.ClaimDue(ctx, now, r.cfg.BatchSize, func(tx repositories.PendingEventTx, events []models.PendingLoyaltyEvent) error {
		published = 0
		updateErrs = nil
		for _, event := range events {
			ok, err := r.replay(ctx, tx, now, event)
			if ok {
				published++
			}
			if err != nil {
				r.logger.Error("Failed to update pending loyalty event",
					zap.String("pending_event_id", event.ID.String()),
					zap.Error(err),
				)
				updateErrs = append(updateErrs, fmt.Errorf("pending event %s: %w", event.ID, err))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replay pending loyalty events: %w", err)
	}
	if len(updateErrs) > 0 {
		return published, fmt.Errorf("failed to update replayed events: %w", errors.Join(updateErrs...))
	}
	return published, nil
}

func (r *Replayer) replay(ctx context.Context, tx repositories.PendingEventTx, now time.Time, event models.PendingLoyaltyEvent) (bool, error) {
	attempt := event.AttemptCount + 1
	log := r.logger.With(
		zap.String("pending_event_id", event.ID.String()),
		zap.String("email", event.Email),
		zap.Int("attempt", attempt),
	)

	pubErr := r.publisher.Publish(ctx, event.Email, event.Points)
	if pubErr == nil {
		log.Info("Replayed deferred loyalty event")
		return true, tx.MarkPublished(event.ID, attempt)
	}

	if errors.Is(pubErr, publisher.ErrInvalidEvent) || attempt >= event.MaxAttempts {
		log.Error("Giving up on deferred loyalty event",
			zap.Int("max_attempts", event.MaxAttempts),
			zap.Error(pubErr),
		)
		return false, tx.MarkFailed(event.ID, attempt, pubErr.Error())
	}

	next := now.Add(CalculateBackoffDelay(attempt + 1))
	log.Warn("Replay of deferred loyalty event failed, rescheduling",
		zap.Time("next_attempt_at", next),
		zap.Error(pubErr),
	)
	return false, tx.Reschedule(event.ID, attempt, next, pubErr.Error())
}
