package mandate

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu       sync.RWMutex
	mandates map[string]*Mandate
}

// NewMemoryStore creates a new in-memory mandate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mandates: make(map[string]*Mandate),
	}
}

func (s *MemoryStore) Create(_ context.Context, m *Mandate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mandates[m.ID]; exists {
		return &Error{Code: "already_exists", Message: "Mandate already exists"}
	}
	s.mandates[m.ID] = copyMandate(m)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mandates[id]
	if !ok {
		return nil, ErrMandateNotFound
	}
	return copyMandate(m), nil
}

func (s *MemoryStore) Update(_ context.Context, m *Mandate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mandates[m.ID]; !ok {
		return ErrMandateNotFound
	}
	s.mandates[m.ID] = copyMandate(m)
	return nil
}

func (s *MemoryStore) GetByAgent(_ context.Context, agent string) ([]*Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent = strings.ToLower(agent)
	var result []*Mandate
	for _, m := range s.mandates {
		if strings.ToLower(m.Agent) == agent {
			result = append(result, copyMandate(m))
		}
	}
	return result, nil
}

func (s *MemoryStore) GetByPrincipal(_ context.Context, principal string) ([]*Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	principal = strings.ToLower(principal)
	var result []*Mandate
	for _, m := range s.mandates {
		if strings.ToLower(m.Principal) == principal {
			result = append(result, copyMandate(m))
		}
	}
	return result, nil
}

func (s *MemoryStore) CountActive(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var n int64
	for _, m := range s.mandates {
		if m.Status == StatusActive && now.Before(m.ExpiresAt) {
			n++
		}
	}
	return n, nil
}

func copyMandate(m *Mandate) *Mandate {
	cp := *m
	cp.Scope.AllowedRecipients = append([]string(nil), m.Scope.AllowedRecipients...)
	cp.Scope.AllowedTokens = append([]string(nil), m.Scope.AllowedTokens...)
	cp.Scope.AllowedActions = append([]string(nil), m.Scope.AllowedActions...)
	if m.Scope.RateLimit != nil {
		rl := *m.Scope.RateLimit
		cp.Scope.RateLimit = &rl
	}
	return &cp
}
