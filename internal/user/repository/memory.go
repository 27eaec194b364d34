package repository

import (
	"context"
	"sync"

	"coresuite/backend/internal/user/domain"
)

// MemoryRepository keeps users in process. Used with MFA_STORE=memory and in tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]domain.User)}
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) Upsert(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	}
	m.users[u.ID] = *u
	return nil
}
