package risk

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockProvider is a deterministic risk provider for tests and local
// development. Every reputation returns a fixed score, every analysis a
// fixed risk level, and the blacklist is a plain set with no expiry logic.
type MockProvider struct {
	// DefaultScore is the reputation returned for every address.
	DefaultScore float64
	// Latency is added to every operation when non-zero.
	Latency time.Duration

	mu        sync.RWMutex
	blacklist map[string]*BlacklistEntry
	alerts    map[string][]*Alert
}

// NewMockProvider creates a mock risk provider.
func NewMockProvider(defaultScore float64, latency time.Duration) *MockProvider {
	return &MockProvider{
		DefaultScore: defaultScore,
		Latency:      latency,
		blacklist:    make(map[string]*BlacklistEntry),
		alerts:       make(map[string][]*Alert),
	}
}

func (p *MockProvider) delay() {
	if p.Latency > 0 {
		time.Sleep(p.Latency)
	}
}

func (p *MockProvider) GetReputation(_ context.Context, address string) (*ReputationScore, error) {
	p.delay()
	now := time.Now()
	return &ReputationScore{
		Address:    strings.ToLower(address),
		Score:      p.DefaultScore,
		Confidence: 1,
		RiskLevel:  reputationLevel(p.DefaultScore),
		UpdatedAt:  now,
		ValidUntil: now.Add(time.Hour),
	}, nil
}

func (p *MockProvider) UpdateReputation(ctx context.Context, address string, _ Factor) (*ReputationScore, error) {
	return p.GetReputation(ctx, address)
}

func (p *MockProvider) MeetsReputationThreshold(_ context.Context, _ string, minScore float64) (bool, error) {
	p.delay()
	return p.DefaultScore >= minScore, nil
}

func (p *MockProvider) CheckBlacklist(_ context.Context, address string) (*BlacklistEntry, error) {
	p.delay()
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.blacklist[strings.ToLower(address)]
	if !ok {
		return nil, nil
	}
	cp := copyBlacklistEntry(entry)
	return cp, nil
}

func (p *MockProvider) AddToBlacklist(_ context.Context, entry *BlacklistEntry) error {
	p.delay()
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := copyBlacklistEntry(entry)
	cp.Address = strings.ToLower(entry.Address)
	if cp.AddedAt.IsZero() {
		cp.AddedAt = time.Now()
	}
	p.blacklist[cp.Address] = cp
	return nil
}

func (p *MockProvider) RemoveFromBlacklist(_ context.Context, address string) error {
	p.delay()
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.blacklist, strings.ToLower(address))
	return nil
}

func (p *MockProvider) GetBlacklist(_ context.Context, _ BlacklistFilter) ([]*BlacklistEntry, error) {
	p.delay()
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*BlacklistEntry
	for _, entry := range p.blacklist {
		out = append(out, copyBlacklistEntry(entry))
	}
	return out, nil
}

func (p *MockProvider) AnalyzeTransaction(ctx context.Context, tx *Transaction) (*TransactionAnalysis, error) {
	p.delay()
	blocked := false
	if entry, _ := p.CheckBlacklist(ctx, tx.From); entry != nil {
		blocked = true
	}
	score := 0.0
	if blocked {
		score = 80
	}
	return &TransactionAnalysis{
		TransactionID: tx.ID,
		RiskScore:     score,
		RiskLevel:     analysisLevel(score),
		ShouldBlock:   blocked,
		AnalyzedAt:    time.Now(),
	}, nil
}

func (p *MockProvider) AnalyzeBatch(ctx context.Context, txs []*Transaction) ([]*TransactionAnalysis, error) {
	out := make([]*TransactionAnalysis, 0, len(txs))
	for _, tx := range txs {
		a, err := p.AnalyzeTransaction(ctx, tx)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (p *MockProvider) DetectPatterns(_ context.Context, _ []*Transaction) ([]*Pattern, error) {
	p.delay()
	return nil, nil
}

func (p *MockProvider) ReportActivity(_ context.Context, alert *Alert) error {
	p.delay()
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *alert
	cp.Address = strings.ToLower(alert.Address)
	p.alerts[cp.Address] = append(p.alerts[cp.Address], &cp)
	return nil
}

func (p *MockProvider) GetRecentAlerts(_ context.Context, address string, limit int) ([]*Alert, error) {
	p.delay()
	p.mu.RLock()
	defer p.mu.RUnlock()
	log := p.alerts[strings.ToLower(address)]
	var out []*Alert
	for i := len(log) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *log[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (p *MockProvider) RecentAssessments(context.Context, string, int) ([]*Assessment, error) {
	p.delay()
	return nil, nil
}

func (p *MockProvider) HealthCheck(context.Context) error {
	p.delay()
	return nil
}

// Compile-time check that MockProvider implements Provider.
var _ Provider = (*MockProvider)(nil)
