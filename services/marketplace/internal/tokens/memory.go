package tokens

import (
	"context"
	"strings"
	"sync"
)

type Memory struct {
	mu       sync.RWMutex
	approved map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{approved: make(map[string]struct{})}
}

func (m *Memory) Add(_ context.Context, tokenIDs []string) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := make([]bool, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		id = strings.TrimSpace(id)
		if id == "" || isNative(id) {
			added = append(added, false)
			continue
		}
		_, exists := m.approved[id]
		if !exists {
			m.approved[id] = struct{}{}
		}
		added = append(added, !exists)
	}
	return added, nil
}

func (m *Memory) Contains(_ context.Context, tokenID string) (bool, error) {
	if isNative(tokenID) {
		return true, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.approved[tokenID]
	return ok, nil
}
