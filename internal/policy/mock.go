package policy

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockProvider is a deterministic policy provider for tests and local
// development. Evaluation returns a fixed default decision instead of
// running the rule set; policy CRUD still works so wiring code can be
// exercised end to end.
type MockProvider struct {
	// DefaultAllow is the decision returned by every evaluation.
	DefaultAllow bool
	// Latency is added to every operation when non-zero.
	Latency time.Duration

	mu        sync.RWMutex
	policies  map[string]*Policy
	order     []string
	blacklist map[string]*BlacklistEntry
}

// NewMockProvider creates a mock policy provider.
func NewMockProvider(defaultAllow bool, latency time.Duration) *MockProvider {
	return &MockProvider{
		DefaultAllow: defaultAllow,
		Latency:      latency,
		policies:     make(map[string]*Policy),
		blacklist:    make(map[string]*BlacklistEntry),
	}
}

func (p *MockProvider) delay() {
	if p.Latency > 0 {
		time.Sleep(p.Latency)
	}
}

func (p *MockProvider) Evaluate(_ context.Context, _ *Context) (*Decision, error) {
	p.delay()
	reason := "allowed (mock)"
	if !p.DefaultAllow {
		reason = "denied (mock)"
	}
	return &Decision{Allowed: p.DefaultAllow, Reason: reason, EvaluatedAt: time.Now()}, nil
}

func (p *MockProvider) EvaluateBatch(ctx context.Context, pcs []*Context) (*BatchDecision, error) {
	batch := &BatchDecision{Allowed: true}
	for range pcs {
		d, _ := p.Evaluate(ctx, nil)
		batch.Decisions = append(batch.Decisions, d)
		if !d.Allowed {
			batch.Allowed = false
			batch.Denials = append(batch.Denials, d.Reason)
		}
	}
	return batch, nil
}

func (p *MockProvider) AddPolicy(_ context.Context, pol *Policy) (*Policy, error) {
	p.delay()
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	pol.CreatedAt = now
	pol.UpdatedAt = now
	p.policies[pol.ID] = copyPolicy(pol)
	p.order = append(p.order, pol.ID)
	return pol, nil
}

func (p *MockProvider) UpdatePolicy(_ context.Context, pol *Policy) (*Policy, error) {
	p.delay()
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.policies[pol.ID]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	pol.CreatedAt = existing.CreatedAt
	pol.UpdatedAt = time.Now()
	p.policies[pol.ID] = copyPolicy(pol)
	return pol, nil
}

func (p *MockProvider) RemovePolicy(_ context.Context, id string) error {
	p.delay()
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.policies[id]; !ok {
		return ErrPolicyNotFound
	}
	delete(p.policies, id)
	return nil
}

func (p *MockProvider) GetPolicy(_ context.Context, id string) (*Policy, error) {
	p.delay()
	p.mu.RLock()
	defer p.mu.RUnlock()

	pol, ok := p.policies[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return copyPolicy(pol), nil
}

func (p *MockProvider) ListPolicies(_ context.Context, _ ListFilter) ([]*Policy, error) {
	p.delay()
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*Policy
	for _, id := range p.order {
		if pol, ok := p.policies[id]; ok {
			out = append(out, copyPolicy(pol))
		}
	}
	return out, nil
}

func (p *MockProvider) SetEnabled(_ context.Context, id string, enabled bool) error {
	p.delay()
	p.mu.Lock()
	defer p.mu.Unlock()

	pol, ok := p.policies[id]
	if !ok {
		return ErrPolicyNotFound
	}
	pol.Enabled = enabled
	return nil
}

func (p *MockProvider) ValidatePolicy(_ *Policy) error {
	return nil
}

func (p *MockProvider) AddToBlacklist(_ context.Context, address, reason string) error {
	p.delay()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blacklist[strings.ToLower(address)] = &BlacklistEntry{
		Address: strings.ToLower(address), Reason: reason, AddedAt: time.Now(),
	}
	return nil
}

func (p *MockProvider) RemoveFromBlacklist(_ context.Context, address string) error {
	p.delay()
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.blacklist, strings.ToLower(address))
	return nil
}

func (p *MockProvider) IsBlacklisted(_ context.Context, address string) (bool, error) {
	p.delay()
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.blacklist[strings.ToLower(address)]
	return ok, nil
}

func (p *MockProvider) GetBlacklist(_ context.Context) ([]*BlacklistEntry, error) {
	p.delay()
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*BlacklistEntry
	for _, entry := range p.blacklist {
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

func (p *MockProvider) HealthCheck(context.Context) error {
	p.delay()
	return nil
}

// Compile-time check that MockProvider implements Provider.
var _ Provider = (*MockProvider)(nil)
