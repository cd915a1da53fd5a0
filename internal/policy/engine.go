package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kordell-io/agentgate/internal/idgen"
	"github.com/kordell-io/agentgate/internal/metrics"
	"github.com/kordell-io/agentgate/internal/traces"
)

// Provider is the policy engine contract consumed by the orchestration
// layer. Implementations must be safe for concurrent use.
type Provider interface {
	Evaluate(ctx context.Context, pc *Context) (*Decision, error)
	EvaluateBatch(ctx context.Context, pcs []*Context) (*BatchDecision, error)
	AddPolicy(ctx context.Context, p *Policy) (*Policy, error)
	UpdatePolicy(ctx context.Context, p *Policy) (*Policy, error)
	RemovePolicy(ctx context.Context, id string) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	ListPolicies(ctx context.Context, filter ListFilter) ([]*Policy, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	ValidatePolicy(p *Policy) error
	AddToBlacklist(ctx context.Context, address, reason string) error
	RemoveFromBlacklist(ctx context.Context, address string) error
	IsBlacklisted(ctx context.Context, address string) (bool, error)
	GetBlacklist(ctx context.Context) ([]*BlacklistEntry, error)
	HealthCheck(ctx context.Context) error
}

// Engine is the production policy provider. Its blacklist is independent of
// the risk engine's: each layer manages its own copy so they can be deployed
// separately.
type Engine struct {
	store Store

	mu        sync.RWMutex
	blacklist map[string]*BlacklistEntry // lowercased address -> entry
}

// NewEngine creates a policy engine backed by the given store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:     store,
		blacklist: make(map[string]*BlacklistEntry),
	}
}

// Evaluate runs the context through all applicable policies in priority
// order. Denials are Decisions, never errors.
func (e *Engine) Evaluate(ctx context.Context, pc *Context) (*Decision, error) {
	ctx, span := traces.StartSpan(ctx, "policy.evaluate", traces.Amount(pc.Amount))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.PolicyEvaluationDuration.Observe(time.Since(start).Seconds())
	}()

	policies, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	applicable := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled && containsFold(p.AppliesTo, pc.Action) {
			applicable = append(applicable, p)
		}
	}
	// Stable sort preserves insertion order within a priority.
	sort.SliceStable(applicable, func(i, j int) bool {
		return applicable[i].Priority < applicable[j].Priority
	})

	d := &Decision{Allowed: true, Reason: "no denying policy matched", EvaluatedAt: time.Now()}
	for _, p := range applicable {
		d.Evaluated = append(d.Evaluated, p.ID)
		if !e.policyMatches(p, pc) {
			continue
		}
		switch p.Effect {
		case EffectDeny:
			d.Allowed = false
			d.Reason = fmt.Sprintf("denied by policy %q", p.Name)
			d.DenyingPolicy = p.ID
			metrics.PolicyEvaluationsTotal.WithLabelValues("denied").Inc()
			span.SetAttributes(traces.PolicyID(p.ID), traces.Decision(false))
			return d, nil
		case EffectWarn:
			d.Warnings = append(d.Warnings, fmt.Sprintf("policy %q: %s", p.Name, warnText(p)))
		case EffectAllow:
			// An allow match does not short-circuit; a lower-priority
			// deny may still apply.
		}
	}

	metrics.PolicyEvaluationsTotal.WithLabelValues("allowed").Inc()
	span.SetAttributes(traces.Decision(true))
	return d, nil
}

// policyMatches reports whether every condition of p holds for pc.
func (e *Engine) policyMatches(p *Policy, pc *Context) bool {
	for _, cond := range p.Conditions {
		if e.conditionMatches(cond, pc) {
			continue
		}
		return false
	}
	return true
}

// conditionMatches evaluates one condition. A target membership condition
// additionally consults the engine's blacklist, so one blacklist policy
// covers dynamically managed addresses without redeploying the rule.
func (e *Engine) conditionMatches(cond Condition, pc *Context) bool {
	if cond.Field == "target" && cond.Operator == OpIn && pc.Target != "" {
		if blocked, _ := e.IsBlacklisted(context.Background(), pc.Target); blocked {
			return true
		}
	}

	v, defined := resolveField(pc, cond.Field)
	return evalCondition(v, defined, cond)
}

// EvaluateBatch evaluates each context independently. Overall allowed is the
// AND of individual decisions; each denial contributes its reason.
func (e *Engine) EvaluateBatch(ctx context.Context, pcs []*Context) (*BatchDecision, error) {
	batch := &BatchDecision{Allowed: true}
	for _, pc := range pcs {
		d, err := e.Evaluate(ctx, pc)
		if err != nil {
			return nil, err
		}
		batch.Decisions = append(batch.Decisions, d)
		if !d.Allowed {
			batch.Allowed = false
			batch.Denials = append(batch.Denials, d.Reason)
		}
	}
	return batch, nil
}

// AddPolicy validates and stores a new policy. A missing ID is assigned.
func (e *Engine) AddPolicy(ctx context.Context, p *Policy) (*Policy, error) {
	if p.ID == "" {
		p.ID = idgen.WithPrefix("pol_")
	}
	if err := e.ValidatePolicy(p); err != nil {
		return nil, err
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := e.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePolicy replaces an existing policy. The creation timestamp is
// preserved; updatedAt is refreshed.
func (e *Engine) UpdatePolicy(ctx context.Context, p *Policy) (*Policy, error) {
	if err := e.ValidatePolicy(p); err != nil {
		return nil, err
	}
	existing, err := e.store.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	if err := e.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RemovePolicy deletes a policy. Fails with not_found if absent.
func (e *Engine) RemovePolicy(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// GetPolicy returns the policy by ID.
func (e *Engine) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	return e.store.Get(ctx, id)
}

// ListPolicies returns policies matching the filter, in insertion order.
func (e *Engine) ListPolicies(ctx context.Context, filter ListFilter) ([]*Policy, error) {
	policies, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if filter.Enabled != nil && p.Enabled != *filter.Enabled {
			continue
		}
		if filter.AppliesTo != "" && !containsFold(p.AppliesTo, filter.AppliesTo) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SetEnabled flips a policy's enabled flag and bumps updatedAt.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool) error {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now()
	return e.store.Update(ctx, p)
}

// ValidatePolicy runs structural checks on a policy definition.
func (e *Engine) ValidatePolicy(p *Policy) error {
	if p.ID == "" || p.Name == "" {
		return &Error{Code: "validation_error", Message: "Policy requires id and name"}
	}
	switch p.Effect {
	case EffectAllow, EffectDeny, EffectWarn:
	default:
		return &Error{Code: "validation_error", Message: fmt.Sprintf("Unknown effect %q", p.Effect)}
	}
	if len(p.AppliesTo) == 0 {
		return &Error{Code: "validation_error", Message: "Policy must apply to at least one action type"}
	}
	for i, cond := range p.Conditions {
		if cond.Field == "" || cond.Operator == "" {
			return &Error{Code: "validation_error", Message: fmt.Sprintf("Condition %d requires field and operator", i)}
		}
	}
	return nil
}

// AddToBlacklist blocks an address. Re-adding refreshes the reason.
func (e *Engine) AddToBlacklist(_ context.Context, address, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.blacklist[strings.ToLower(address)] = &BlacklistEntry{
		Address: strings.ToLower(address),
		Reason:  reason,
		AddedAt: time.Now(),
	}
	metrics.BlacklistSize.WithLabelValues("policy").Set(float64(len(e.blacklist)))
	return nil
}

// RemoveFromBlacklist unblocks an address. Removing an absent address is a
// no-op.
func (e *Engine) RemoveFromBlacklist(_ context.Context, address string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.blacklist, strings.ToLower(address))
	metrics.BlacklistSize.WithLabelValues("policy").Set(float64(len(e.blacklist)))
	return nil
}

// IsBlacklisted reports whether the address is currently blocked.
func (e *Engine) IsBlacklisted(_ context.Context, address string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.blacklist[strings.ToLower(address)]
	return ok, nil
}

// GetBlacklist returns all blocked addresses.
func (e *Engine) GetBlacklist(_ context.Context) ([]*BlacklistEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*BlacklistEntry, 0, len(e.blacklist))
	for _, entry := range e.blacklist {
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

// HealthCheck verifies the backing store is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	_, err := e.store.Count(ctx)
	return err
}

func warnText(p *Policy) string {
	if p.Description != "" {
		return p.Description
	}
	return "matched a warning policy"
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

// Compile-time check that Engine implements Provider.
var _ Provider = (*Engine)(nil)
