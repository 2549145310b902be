package status

import (
	"context"
	"sync"
	"time"

	"batchzip/internal/models"
)

// MemoryStore keeps statuses in process. It also records every update, which
// tests use to inspect the sequence of progress notifications.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	current map[string]models.TaskStatus
	history map[string][]models.TaskStatus
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		current: make(map[string]models.TaskStatus),
		history: make(map[string][]models.TaskStatus),
	}
}

func (m *MemoryStore) SetProgress(ctx context.Context, cacheKey string, state models.TaskState, done, total int, message string) {
	m.put(models.TaskStatus{
		CacheKey: cacheKey,
		State:    state,
		Done:     done,
		Total:    total,
		Message:  message,
	})
}

func (m *MemoryStore) SetCompleted(ctx context.Context, cacheKey string, result models.BatchResult) {
	m.put(completedStatus(cacheKey, result))
}

func (m *MemoryStore) SetFailed(ctx context.Context, cacheKey string, message string) {
	m.put(failedStatus(cacheKey, message))
}

func (m *MemoryStore) Get(ctx context.Context, cacheKey string) (*models.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.current[cacheKey]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

// History returns every update written for cacheKey, oldest first.
func (m *MemoryStore) History(cacheKey string) []models.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.TaskStatus, len(m.history[cacheKey]))
	copy(out, m.history[cacheKey])
	return out
}

func (m *MemoryStore) put(st models.TaskStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st.UpdatedAt = m.now()
	m.current[st.CacheKey] = st
	m.history[st.CacheKey] = append(m.history[st.CacheKey], st)
}
