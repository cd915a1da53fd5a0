package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kordell-io/agentgate/internal/metrics"
	"github.com/kordell-io/agentgate/internal/traces"
)

// Provider is the risk engine contract consumed by the orchestration layer.
// Implementations must be safe for concurrent use.
type Provider interface {
	GetReputation(ctx context.Context, address string) (*ReputationScore, error)
	UpdateReputation(ctx context.Context, address string, factor Factor) (*ReputationScore, error)
	MeetsReputationThreshold(ctx context.Context, address string, minScore float64) (bool, error)
	CheckBlacklist(ctx context.Context, address string) (*BlacklistEntry, error)
	AddToBlacklist(ctx context.Context, entry *BlacklistEntry) error
	RemoveFromBlacklist(ctx context.Context, address string) error
	GetBlacklist(ctx context.Context, filter BlacklistFilter) ([]*BlacklistEntry, error)
	AnalyzeTransaction(ctx context.Context, tx *Transaction) (*TransactionAnalysis, error)
	AnalyzeBatch(ctx context.Context, txs []*Transaction) ([]*TransactionAnalysis, error)
	DetectPatterns(ctx context.Context, txs []*Transaction) ([]*Pattern, error)
	ReportActivity(ctx context.Context, alert *Alert) error
	GetRecentAlerts(ctx context.Context, address string, limit int) ([]*Alert, error)
	RecentAssessments(ctx context.Context, sender string, limit int) ([]*Assessment, error)
	HealthCheck(ctx context.Context) error
}

// Config tunes the risk engine. Zero fields fall back to defaults.
type Config struct {
	// BaseScore seeds every reputation before factors apply.
	BaseScore float64
	// HighValueThreshold flags transactions at or above this base-unit
	// amount.
	HighValueThreshold string
	// VelocityLimit is the per-sender transaction count in the trailing
	// hour at which the velocity threat fires.
	VelocityLimit int
	// HistoryLimit caps the per-sender transaction history.
	HistoryLimit int
	// AlertLimit caps the per-address alert log.
	AlertLimit int
	// ReputationTTL is the cached score validity window.
	ReputationTTL time.Duration
	// SweepInterval spaces background eviction passes.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseScore == 0 {
		c.BaseScore = 50
	}
	if c.HighValueThreshold == "" {
		c.HighValueThreshold = "10000000000000000000"
	}
	if c.VelocityLimit == 0 {
		c.VelocityLimit = 10
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 100
	}
	if c.AlertLimit == 0 {
		c.AlertLimit = 50
	}
	if c.ReputationTTL == 0 {
		c.ReputationTTL = 5 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Engine is the production risk provider. All keyed collections live behind
// one mutex; the background sweeper shares the same discipline so eviction
// never races a concurrent read.
type Engine struct {
	cfg    Config
	audit  Store
	logger *slog.Logger

	mu          sync.RWMutex
	reputations map[string]*ReputationScore
	blacklist   map[string]*BlacklistEntry
	histories   map[string][]*Transaction
	alerts      map[string][]*Alert

	sweep sweeper
}

// NewEngine creates a risk engine. The audit store may be nil, in which case
// analyses are not persisted.
func NewEngine(cfg Config, audit Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg.withDefaults(),
		audit:       audit,
		logger:      logger,
		reputations: make(map[string]*ReputationScore),
		blacklist:   make(map[string]*BlacklistEntry),
		histories:   make(map[string][]*Transaction),
		alerts:      make(map[string][]*Alert),
	}
}

// GetReputation returns the cached score when still valid, otherwise
// recomputes it from the blacklist, history, and age factors.
func (e *Engine) GetReputation(ctx context.Context, address string) (*ReputationScore, error) {
	_, span := traces.StartSpan(ctx, "risk.reputation", traces.AgentAddr(address))
	defer span.End()

	addr := strings.ToLower(address)
	now := time.Now()

	e.mu.RLock()
	cached, ok := e.reputations[addr]
	e.mu.RUnlock()
	if ok && now.Before(cached.ValidUntil) {
		return copyReputation(cached), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Another caller may have recomputed while we waited for the lock.
	if cached, ok := e.reputations[addr]; ok && now.Before(cached.ValidUntil) {
		return copyReputation(cached), nil
	}

	score := e.computeReputationLocked(addr, now)
	e.reputations[addr] = score
	return copyReputation(score), nil
}

// computeReputationLocked builds a fresh score. Caller holds the write lock.
func (e *Engine) computeReputationLocked(addr string, now time.Time) *ReputationScore {
	var factors []Factor

	if entry, ok := e.blacklist[addr]; ok && !entry.expired(now) {
		factors = append(factors, Factor{
			Name:         "blacklist",
			Contribution: -100,
			Weight:       1,
			Description:  fmt.Sprintf("blacklisted: %s", entry.Reason),
		})
	}

	history := e.histories[addr]
	if len(history) >= 5 {
		factors = append(factors, historyFactor(history))
	}

	// Small fixed credit for having been observed at all.
	factors = append(factors, Factor{
		Name:         "age",
		Contribution: 5,
		Weight:       0.5,
		Description:  "account age and observation credit",
	})

	confidence := float64(len(history)) / 20
	if confidence > 1 {
		confidence = 1
	}

	score := scoreFromFactors(e.cfg.BaseScore, factors)
	return &ReputationScore{
		Address:    addr,
		Score:      score,
		Confidence: confidence,
		RiskLevel:  reputationLevel(score),
		Factors:    factors,
		UpdatedAt:  now,
		ValidUntil: now.Add(e.cfg.ReputationTTL),
	}
}

// historyFactor scores transaction history: volume and recipient diversity
// reward, repetitive single-recipient streaks penalize.
func historyFactor(history []*Transaction) Factor {
	var contribution float64
	var notes []string

	if len(history) >= 10 {
		contribution += 10
		notes = append(notes, "established transaction volume")
	}

	recent := history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	unique := make(map[string]struct{})
	for _, tx := range recent {
		unique[strings.ToLower(tx.To)] = struct{}{}
	}
	if len(unique) >= 5 {
		contribution += 10
		notes = append(notes, "diverse recipients")
	}

	if streak := longestRecipientStreak(history); streak >= 5 {
		contribution -= 15
		notes = append(notes, fmt.Sprintf("%d consecutive transfers to one recipient", streak))
	}

	return Factor{
		Name:         "history",
		Contribution: contribution,
		Weight:       1,
		Description:  strings.Join(notes, "; "),
	}
}

func longestRecipientStreak(history []*Transaction) int {
	best, run := 0, 0
	prev := ""
	for _, tx := range history {
		to := strings.ToLower(tx.To)
		if to == prev {
			run++
		} else {
			run = 1
			prev = to
		}
		if run > best {
			best = run
		}
	}
	return best
}

func scoreFromFactors(base float64, factors []Factor) float64 {
	score := base
	for _, f := range factors {
		score += f.Contribution * f.Weight
	}
	return clampScore(score)
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// UpdateReputation upserts a named factor and recomputes the aggregate.
func (e *Engine) UpdateReputation(ctx context.Context, address string, factor Factor) (*ReputationScore, error) {
	if _, err := e.GetReputation(ctx, address); err != nil {
		return nil, err
	}

	addr := strings.ToLower(address)
	e.mu.Lock()
	defer e.mu.Unlock()

	rep := e.reputations[addr]
	if rep == nil {
		rep = e.computeReputationLocked(addr, time.Now())
		e.reputations[addr] = rep
	}
	replaced := false
	for i, f := range rep.Factors {
		if f.Name == factor.Name {
			rep.Factors[i] = factor
			replaced = true
			break
		}
	}
	if !replaced {
		rep.Factors = append(rep.Factors, factor)
	}

	now := time.Now()
	rep.Score = scoreFromFactors(e.cfg.BaseScore, rep.Factors)
	rep.RiskLevel = reputationLevel(rep.Score)
	rep.UpdatedAt = now
	rep.ValidUntil = now.Add(e.cfg.ReputationTTL)
	return copyReputation(rep), nil
}

// MeetsReputationThreshold reports whether the address scores at or above
// minScore.
func (e *Engine) MeetsReputationThreshold(ctx context.Context, address string, minScore float64) (bool, error) {
	rep, err := e.GetReputation(ctx, address)
	if err != nil {
		return false, err
	}
	return rep.Score >= minScore, nil
}

// CheckBlacklist returns the entry for an address, or nil when absent.
// An expired entry is evicted on read.
func (e *Engine) CheckBlacklist(_ context.Context, address string) (*BlacklistEntry, error) {
	addr := strings.ToLower(address)
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.blacklist[addr]
	if !ok {
		return nil, nil
	}
	if entry.expired(now) {
		delete(e.blacklist, addr)
		delete(e.reputations, addr)
		metrics.BlacklistSize.WithLabelValues("risk").Set(float64(len(e.blacklist)))
		return nil, nil
	}
	cp := copyBlacklistEntry(entry)
	return cp, nil
}

// AddToBlacklist blocks an address and invalidates its cached reputation.
func (e *Engine) AddToBlacklist(_ context.Context, entry *BlacklistEntry) error {
	if entry.Address == "" {
		return &Error{Code: "validation_error", Message: "Blacklist entry requires an address"}
	}
	switch entry.Severity {
	case SeverityWarning, SeverityDanger, SeverityCritical:
	case "":
		entry.Severity = SeverityDanger
	default:
		return &Error{Code: "validation_error", Message: fmt.Sprintf("Unknown severity %q", entry.Severity)}
	}

	addr := strings.ToLower(entry.Address)
	cp := copyBlacklistEntry(entry)
	cp.Address = addr
	if cp.AddedAt.IsZero() {
		cp.AddedAt = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.blacklist[addr] = cp
	delete(e.reputations, addr)
	metrics.BlacklistSize.WithLabelValues("risk").Set(float64(len(e.blacklist)))

	e.logger.Info("address blacklisted",
		"address", addr, "severity", string(cp.Severity), "reason", cp.Reason)
	return nil
}

// RemoveFromBlacklist unblocks an address and invalidates its cached
// reputation. Removing an absent address is a no-op.
func (e *Engine) RemoveFromBlacklist(_ context.Context, address string) error {
	addr := strings.ToLower(address)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.blacklist, addr)
	delete(e.reputations, addr)
	metrics.BlacklistSize.WithLabelValues("risk").Set(float64(len(e.blacklist)))
	return nil
}

// GetBlacklist returns unexpired entries matching the filter.
func (e *Engine) GetBlacklist(_ context.Context, filter BlacklistFilter) ([]*BlacklistEntry, error) {
	now := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*BlacklistEntry, 0, len(e.blacklist))
	for _, entry := range e.blacklist {
		if entry.expired(now) {
			continue
		}
		if filter.Severity != "" && entry.Severity != filter.Severity {
			continue
		}
		if filter.Source != "" && entry.Source != filter.Source {
			continue
		}
		out = append(out, copyBlacklistEntry(entry))
	}
	return out, nil
}

// RecentAssessments returns the sender's latest audit records, newest first.
// Without an audit store the result is empty.
func (e *Engine) RecentAssessments(ctx context.Context, sender string, limit int) ([]*Assessment, error) {
	if e.audit == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return e.audit.RecentBySender(ctx, sender, limit)
}

// HealthCheck verifies the audit store is reachable when one is configured.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if e.audit == nil {
		return nil
	}
	_, err := e.audit.Count(ctx)
	return err
}

func copyReputation(r *ReputationScore) *ReputationScore {
	cp := *r
	cp.Factors = append([]Factor(nil), r.Factors...)
	return &cp
}

func copyBlacklistEntry(entry *BlacklistEntry) *BlacklistEntry {
	cp := *entry
	cp.Tags = append([]string(nil), entry.Tags...)
	if entry.ExpiresAt != nil {
		exp := *entry.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}

// Compile-time check that Engine implements Provider.
var _ Provider = (*Engine)(nil)
