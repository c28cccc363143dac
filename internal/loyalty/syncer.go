package loyalty

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/marminbh/popup-pos/internal/models"
)

// Directory is the customer record store the syncer reads and writes.
// FindByEmail returns nil, nil when no customer has the email.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*models.CustomerRecord, error)
	Get(ctx context.Context, id string) (*models.CustomerRecord, error)
	Create(ctx context.Context, email string, totalPoints int, tier string) (*models.CustomerRecord, error)
	UpdatePoints(ctx context.Context, id string, totalPoints int, tier string) (*models.CustomerRecord, error)
}

// Locker serializes syncs for the same customer across consumer processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// NopLocker performs no locking
var NopLocker Locker = nopLocker{}

// Syncer merges earned points into the customer's record in the directory
type Syncer struct {
	directory Directory
	locker    Locker
	logger    *zap.Logger
}

func NewSyncer(directory Directory, locker Locker, logger *zap.Logger) *Syncer {
	if locker == nil {
		locker = NopLocker
	}
	return &Syncer{
		directory: directory,
		locker:    locker,
		logger:    logger,
	}
}

// Sync adds delta points to the customer identified by email, creating the
// customer when absent, and rewrites the tier from the new total.
//
// The merge is a read-modify-write against the directory. The lock narrows
// the window for lost updates but cannot close it once the lock expires, and
// replaying the same delta adds it again.
func (s *Syncer) Sync(ctx context.Context, email string, delta int) (*models.CustomerRecord, error) {
	if email == "" {
		return nil, &ValidationError{Field: "email", Reason: "must not be empty"}
	}
	if delta < 0 {
		return nil, &ValidationError{Field: "points", Reason: "must not be negative"}
	}

	unlock, err := s.locker.Lock(ctx, "loyalty:customer:"+email)
	if err != nil {
		return nil, fmt.Errorf("failed to lock customer %s: %w", email, err)
	}
	defer unlock()

	existing, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}

	if existing == nil {
		return s.create(ctx, email, delta)
	}
	return s.addPoints(ctx, existing.ID, delta)
}

func (s *Syncer) create(ctx context.Context, email string, points int) (*models.CustomerRecord, error) {
	tier, err := ResolveTier(points)
	if err != nil {
		return nil, err
	}

	customer, err := s.directory.Create(ctx, email, points, tier.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	s.logger.Info("Created customer with loyalty points",
		zap.String("customer_id", customer.ID),
		zap.Int("total_points", points),
		zap.String("loyalty_level", tier.String()),
	)
	return customer, nil
}

func (s *Syncer) addPoints(ctx context.Context, customerID string, delta int) (*models.CustomerRecord, error) {
	// Re-read so the total reflects the latest write, not the search result
	current, err := s.directory.Get(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch customer %s: %w", customerID, err)
	}

	total := current.TotalPoints + delta
	tier, err := ResolveTier(total)
	if err != nil {
		return nil, err
	}

	updated, err := s.directory.UpdatePoints(ctx, customerID, total, tier.String())
	if err != nil {
		return nil, fmt.Errorf("failed to update customer %s: %w", customerID, err)
	}

	s.logger.Info("Updated customer loyalty points",
		zap.String("customer_id", customerID),
		zap.Int("previous_points", current.TotalPoints),
		zap.Int("delta", delta),
		zap.Int("total_points", total),
		zap.String("loyalty_level", tier.String()),
	)
	return updated, nil
}
