package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marminbh/popup-pos/internal/models"
)

// MemorySyncAttemptRepository keeps attempts in process. Used by tests and
// when the consumer runs without a database.
type MemorySyncAttemptRepository struct {
	mu       sync.Mutex
	nextID   int64
	attempts []models.SyncAttemptLog
}

func NewMemorySyncAttemptRepository() *MemorySyncAttemptRepository {
	return &MemorySyncAttemptRepository{}
}

func (r *MemorySyncAttemptRepository) Record(_ context.Context, attempt *models.SyncAttemptLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if attempt.AttemptNo == 0 {
		previous := 0
		for _, a := range r.attempts {
			if a.MessageID == attempt.MessageID {
				previous++
			}
		}
		attempt.AttemptNo = previous + 1
	}
	r.nextID++
	attempt.ID = r.nextID
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *MemorySyncAttemptRepository) List(_ context.Context, filter AttemptFilter) ([]models.SyncAttemptLog, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []models.SyncAttemptLog
	for i := len(r.attempts) - 1; i >= 0; i-- {
		if filter.Email == "" || r.attempts[i].Email == filter.Email {
			matched = append(matched, r.attempts[i])
		}
	}

	if filter.Offset >= len(matched) {
		return []models.SyncAttemptLog{}, false, nil
	}
	matched = matched[filter.Offset:]
	hasMore := len(matched) > filter.Limit
	if hasMore {
		matched = matched[:filter.Limit]
	}
	return matched, hasMore, nil
}

// All returns every stored attempt in insertion order
func (r *MemorySyncAttemptRepository) All() []models.SyncAttemptLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SyncAttemptLog(nil), r.attempts...)
}

type MemoryPendingEventRepository struct {
	mu     sync.Mutex
	events map[uuid.UUID]*models.PendingLoyaltyEvent
}

func NewMemoryPendingEventRepository() *MemoryPendingEventRepository {
	return &MemoryPendingEventRepository{events: make(map[uuid.UUID]*models.PendingLoyaltyEvent)}
}

func (r *MemoryPendingEventRepository) Enqueue(_ context.Context, email string, points, maxAttempts int) (*models.PendingLoyaltyEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

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
	r.events[event.ID] = event
	stored := *event
	return &stored, nil
}

func (r *MemoryPendingEventRepository) GetByID(_ context.Context, id uuid.UUID) (*models.PendingLoyaltyEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	stored := *event
	return &stored, nil
}

// ClaimDue holds the repository lock while fn runs, so claims never overlap.
func (r *MemoryPendingEventRepository) ClaimDue(
	_ context.Context,
	now time.Time,
	limit int,
	fn func(tx PendingEventTx, events []models.PendingLoyaltyEvent) error,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []models.PendingLoyaltyEvent
	for _, event := range r.events {
		if event.Status == models.OutboxStatusPending && !event.NextAttemptAt.After(now) {
			due = append(due, *event)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	// Updates are staged and only applied when fn succeeds, like a transaction
	staged := make(map[uuid.UUID]models.PendingLoyaltyEvent)
	tx := &memoryPendingEventTx{events: r.events, staged: staged}
	if err := fn(tx, due); err != nil {
		return err
	}
	for id, event := range staged {
		stored := event
		r.events[id] = &stored
	}
	return nil
}

type memoryPendingEventTx struct {
	events map[uuid.UUID]*models.PendingLoyaltyEvent
	staged map[uuid.UUID]models.PendingLoyaltyEvent
}

func (m *memoryPendingEventTx) current(id uuid.UUID) (models.PendingLoyaltyEvent, error) {
	if event, ok := m.staged[id]; ok {
		return event, nil
	}
	event, ok := m.events[id]
	if !ok {
		return models.PendingLoyaltyEvent{}, ErrNotFound
	}
	return *event, nil
}

func (m *memoryPendingEventTx) apply(id uuid.UUID, change func(*models.PendingLoyaltyEvent)) error {
	event, err := m.current(id)
	if err != nil {
		return err
	}
	change(&event)
	event.UpdatedAt = time.Now().UTC()
	m.staged[id] = event
	return nil
}

func (m *memoryPendingEventTx) MarkPublished(id uuid.UUID, attemptCount int) error {
	return m.apply(id, func(e *models.PendingLoyaltyEvent) {
		e.Status = models.OutboxStatusPublished
		e.AttemptCount = attemptCount
	})
}

func (m *memoryPendingEventTx) Reschedule(id uuid.UUID, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	return m.apply(id, func(e *models.PendingLoyaltyEvent) {
		e.Status = models.OutboxStatusPending
		e.AttemptCount = attemptCount
		e.NextAttemptAt = nextAttemptAt
		e.LastError = &lastError
	})
}

func (m *memoryPendingEventTx) MarkFailed(id uuid.UUID, attemptCount int, lastError string) error {
	return m.apply(id, func(e *models.PendingLoyaltyEvent) {
		e.Status = models.OutboxStatusFailed
		e.AttemptCount = attemptCount
		e.LastError = &lastError
	})
}
