package risk

import (
	"context"
	"strings"
	"sync"
)

// memoryStoreCap bounds the in-memory audit log.
const memoryStoreCap = 10000

// MemoryStore is an in-memory implementation of Store with a bounded,
// oldest-evicted assessment log.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments []*Assessment
}

// NewMemoryStore creates a new in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(_ context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.assessments = append(s.assessments, &cp)
	if len(s.assessments) > memoryStoreCap {
		s.assessments = s.assessments[len(s.assessments)-memoryStoreCap:]
	}
	return nil
}

func (s *MemoryStore) RecentBySender(_ context.Context, sender string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sender = strings.ToLower(sender)
	var out []*Assessment
	for i := len(s.assessments) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.ToLower(s.assessments[i].Sender) == sender {
			cp := *s.assessments[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.assessments)), nil
}
