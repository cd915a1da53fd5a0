package mandate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kordell-io/agentgate/internal/idgen"
)

// MockProvider is a deterministic mandate provider for tests and local
// development. It performs no cryptography: mandates carry a fabricated
// proof, validation succeeds or fails according to AutoApprove, and an
// optional artificial latency is applied to every call.
type MockProvider struct {
	// AutoApprove makes every validation succeed regardless of scope.
	// When false, the mock enforces scope like the real authority minus
	// signature work.
	AutoApprove bool
	// Latency is added to every operation when non-zero.
	Latency time.Duration

	mu       sync.RWMutex
	mandates map[string]*Mandate
	nonce    atomic.Uint64
}

// NewMockProvider creates a mock mandate provider.
func NewMockProvider(autoApprove bool, latency time.Duration) *MockProvider {
	return &MockProvider{
		AutoApprove: autoApprove,
		Latency:     latency,
		mandates:    make(map[string]*Mandate),
	}
}

func (p *MockProvider) delay() {
	if p.Latency > 0 {
		time.Sleep(p.Latency)
	}
}

func (p *MockProvider) CreateMandate(_ context.Context, agent, principal string, scope Scope, duration time.Duration) (*Mandate, error) {
	p.delay()
	now := time.Now()
	nonce := p.nonce.Add(1)
	m := &Mandate{
		ID:            fmt.Sprintf("mnd_mock_%d", nonce),
		Agent:         strings.ToLower(agent),
		Principal:     strings.ToLower(principal),
		Scope:         scope,
		ExpiresAt:     now.Add(duration),
		Authorization: "0xmock" + idgen.Hex(8),
		Nonce:         nonce,
		CreatedAt:     now,
		Status:        StatusActive,
		UsedAmount:    "0",
	}

	p.mu.Lock()
	p.mandates[m.ID] = copyMandate(m)
	p.mu.Unlock()
	return m, nil
}

func (p *MockProvider) ValidateMandate(_ context.Context, mandateID string, action Action) (*Decision, error) {
	p.delay()

	p.mu.RLock()
	m, ok := p.mandates[mandateID]
	p.mu.RUnlock()
	if !ok {
		return deny(mandateID, ReasonMandateNotFound), nil
	}
	if m.Status != StatusActive {
		return deny(mandateID, ReasonMandateRevoked), nil
	}
	if p.AutoApprove {
		return &Decision{Approved: true, Reason: "approved (mock)", MandateID: mandateID}, nil
	}

	d, _ := evaluateAction(copyMandate(m), action, time.Now())
	return d, nil
}

func (p *MockProvider) ExecuteAction(ctx context.Context, mandateID string, action Action) (*ExecutionResult, error) {
	d, err := p.ValidateMandate(ctx, mandateID, action)
	if err != nil {
		return nil, err
	}
	if !d.Approved {
		return nil, &NotApprovedError{Reason: d.Reason}
	}
	ref := "stl_mock_" + idgen.Hex(6)
	if err := p.RecordExecution(ctx, mandateID, action, ref); err != nil {
		return nil, err
	}
	return &ExecutionResult{MandateID: mandateID, Reference: ref, Decision: d, ExecutedAt: time.Now()}, nil
}

func (p *MockProvider) RecordExecution(_ context.Context, mandateID string, action Action, _ string) error {
	p.delay()

	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.mandates[mandateID]
	if !ok {
		return ErrMandateNotFound
	}
	m.TransactionCount++
	// Mock keeps usage as a plain counter string; exact arithmetic lives
	// in the production authority.
	m.UsedAmount = action.Amount
	return nil
}

func (p *MockProvider) RevokeMandate(_ context.Context, mandateID string) error {
	p.delay()

	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.mandates[mandateID]
	if !ok {
		return ErrMandateNotFound
	}
	m.Status = StatusRevoked
	return nil
}

func (p *MockProvider) GetMandate(_ context.Context, mandateID string) (*Mandate, error) {
	p.delay()

	p.mu.RLock()
	defer p.mu.RUnlock()

	m, ok := p.mandates[mandateID]
	if !ok {
		return nil, ErrMandateNotFound
	}
	return copyMandate(m), nil
}

func (p *MockProvider) GetMandatesForAgent(_ context.Context, agent string) ([]*Mandate, error) {
	p.delay()

	p.mu.RLock()
	defer p.mu.RUnlock()

	agent = strings.ToLower(agent)
	var out []*Mandate
	for _, m := range p.mandates {
		if m.Agent == agent {
			out = append(out, copyMandate(m))
		}
	}
	return out, nil
}

func (p *MockProvider) GetMandatesFromPrincipal(_ context.Context, principal string) ([]*Mandate, error) {
	p.delay()

	p.mu.RLock()
	defer p.mu.RUnlock()

	principal = strings.ToLower(principal)
	var out []*Mandate
	for _, m := range p.mandates {
		if m.Principal == principal {
			out = append(out, copyMandate(m))
		}
	}
	return out, nil
}

func (p *MockProvider) ValidateMandateSignature(_ context.Context, m *Mandate) (*SignatureReport, error) {
	p.delay()
	// No cryptography in the mock: any non-empty proof passes.
	if m.Authorization == "" {
		return &SignatureReport{Errors: []string{"authorization proof is missing"}}, nil
	}
	return &SignatureReport{Valid: true, Signer: m.Principal}, nil
}

func (p *MockProvider) HealthCheck(context.Context) error {
	p.delay()
	return nil
}

// Compile-time check that MockProvider implements Provider.
var _ Provider = (*MockProvider)(nil)
