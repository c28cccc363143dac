package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/marminbh/popup-pos/internal/models"
)

// MemoryDirectory keeps customer records in process. It matches emails
// exactly, like the remote filter, and is safe for concurrent use.
type MemoryDirectory struct {
	mu        sync.Mutex
	customers map[string]models.CustomerRecord
	order     []string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{customers: make(map[string]models.CustomerRecord)}
}

func (m *MemoryDirectory) FindByEmail(_ context.Context, email string) (*models.CustomerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		if c := m.customers[id]; c.Email == email {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryDirectory) Get(_ context.Context, id string) (*models.CustomerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, &APIError{Method: "GET", URL: "customers/" + id, StatusCode: 404, Body: "not found"}
	}
	return &c, nil
}

func (m *MemoryDirectory) Create(_ context.Context, email string, totalPoints int, tier string) (*models.CustomerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := models.CustomerRecord{
		ID:          uuid.NewString(),
		Email:       email,
		TotalPoints: totalPoints,
		LoyaltyTier: tier,
	}
	m.customers[c.ID] = c
	m.order = append(m.order, c.ID)
	return &c, nil
}

func (m *MemoryDirectory) UpdatePoints(_ context.Context, id string, totalPoints int, tier string) (*models.CustomerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s not found", id)
	}
	c.TotalPoints = totalPoints
	c.LoyaltyTier = tier
	m.customers[id] = c
	return &c, nil
}

// Customers returns a snapshot in creation order
func (m *MemoryDirectory) Customers() []models.CustomerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.CustomerRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.customers[id])
	}
	return out
}
