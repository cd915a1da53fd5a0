package mandate

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kordell-io/agentgate/internal/amount"
	"github.com/kordell-io/agentgate/internal/idgen"
	"github.com/kordell-io/agentgate/internal/metrics"
	"github.com/kordell-io/agentgate/internal/syncutil"
	"github.com/kordell-io/agentgate/internal/traces"
)

// Provider is the mandate authority contract consumed by the orchestration
// layer. Implementations must be safe for concurrent use.
type Provider interface {
	CreateMandate(ctx context.Context, agent, principal string, scope Scope, duration time.Duration) (*Mandate, error)
	ValidateMandate(ctx context.Context, mandateID string, action Action) (*Decision, error)
	ExecuteAction(ctx context.Context, mandateID string, action Action) (*ExecutionResult, error)
	RecordExecution(ctx context.Context, mandateID string, action Action, reference string) error
	RevokeMandate(ctx context.Context, mandateID string) error
	GetMandate(ctx context.Context, mandateID string) (*Mandate, error)
	GetMandatesForAgent(ctx context.Context, agent string) ([]*Mandate, error)
	GetMandatesFromPrincipal(ctx context.Context, principal string) ([]*Mandate, error)
	ValidateMandateSignature(ctx context.Context, m *Mandate) (*SignatureReport, error)
	HealthCheck(ctx context.Context) error
}

// Config configures an Authority.
type Config struct {
	// SigningKey signs authorization proofs at issuance. Optional unless
	// RequireSigning is set; mandates issued without a key carry no proof.
	SigningKey     *ecdsa.PrivateKey
	RequireSigning bool
	ChainID        int64
}

// Authority is the production mandate provider.
//
// Validate-then-record sequences in ExecuteAction are serialized per mandate
// ID so that two concurrent executions cannot both pass validation and
// jointly overdraw the budget.
type Authority struct {
	store Store
	cfg   Config
	locks syncutil.ShardedMutex
	nonce atomic.Uint64
}

// NewAuthority creates a mandate authority backed by the given store.
func NewAuthority(store Store, cfg Config) *Authority {
	return &Authority{store: store, cfg: cfg}
}

// CreateMandate issues a new mandate from principal to agent, expiring after
// duration. The identifier is deterministic over (agent, principal, expiry,
// nonce); when a signing key is configured the mandate carries an
// authorization proof over the same tuple plus the per-action limit.
func (a *Authority) CreateMandate(ctx context.Context, agent, principal string, scope Scope, duration time.Duration) (*Mandate, error) {
	ctx, span := traces.StartSpan(ctx, "mandate.create", traces.AgentAddr(agent))
	defer span.End()

	if !ValidAddress(agent) || !ValidAddress(principal) {
		return nil, ErrInvalidAddress
	}
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	if a.cfg.RequireSigning && a.cfg.SigningKey == nil {
		return nil, ErrMissingSigningKey
	}

	now := time.Now()
	expiry := now.Add(duration)
	nonce := a.nonce.Add(1)

	m := &Mandate{
		ID:               DeriveID(agent, principal, expiry.Unix(), nonce),
		Agent:            strings.ToLower(agent),
		Principal:        strings.ToLower(principal),
		Scope:            scope,
		ExpiresAt:        expiry,
		Nonce:            nonce,
		CreatedAt:        now,
		Status:           StatusActive,
		UsedAmount:       "0",
		TransactionCount: 0,
	}

	if a.cfg.SigningKey != nil {
		msg := ProofMessage(a.cfg.ChainID, m.Agent, m.Principal, scope.MaxAmount, expiry.Unix(), nonce)
		proof, err := SignMessage(msg, a.cfg.SigningKey)
		if err != nil {
			return nil, err
		}
		m.Authorization = proof
	}

	if err := a.store.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create mandate: %w", err)
	}

	metrics.ActiveMandates.Inc()
	return m, nil
}

// ValidateMandate checks a proposed action against the mandate's remaining
// capacity. Denials are returned as Decisions, never as errors; the checks
// run in a fixed order and stop at the first failure.
func (a *Authority) ValidateMandate(ctx context.Context, mandateID string, action Action) (*Decision, error) {
	ctx, span := traces.StartSpan(ctx, "mandate.validate", traces.MandateID(mandateID))
	defer span.End()

	m, err := a.store.Get(ctx, mandateID)
	if err != nil {
		d := deny(mandateID, ReasonMandateNotFound)
		metrics.MandateValidationsTotal.WithLabelValues("rejected").Inc()
		return d, nil
	}

	d := a.validate(ctx, m, action, time.Now())
	if d.Approved {
		metrics.MandateValidationsTotal.WithLabelValues("approved").Inc()
	} else {
		metrics.MandateValidationsTotal.WithLabelValues("rejected").Inc()
	}
	span.SetAttributes(traces.Decision(d.Approved))
	return d, nil
}

// validate runs the ordered checks against a mandate snapshot.
// Marks the stored status expired when an expiry is observed on read.
func (a *Authority) validate(ctx context.Context, m *Mandate, action Action, now time.Time) *Decision {
	d, expiredOnRead := evaluateAction(m, action, now)
	if expiredOnRead {
		// Persist the terminal state so later reads agree.
		m.Status = StatusExpired
		_ = a.store.Update(ctx, m)
		metrics.ActiveMandates.Dec()
	}
	return d
}

// evaluateAction applies the ordered scope checks to a mandate snapshot.
// The second return reports an expiry observed on this read, which callers
// owning a store should persist.
func evaluateAction(m *Mandate, action Action, now time.Time) (*Decision, bool) {
	switch m.Status {
	case StatusRevoked:
		return deny(m.ID, ReasonMandateRevoked), false
	case StatusExpired:
		return deny(m.ID, ReasonMandateExpired), false
	}
	if now.After(m.ExpiresAt) {
		return deny(m.ID, ReasonMandateExpired), true
	}

	amt, ok := amount.Parse(action.Amount)
	if !ok || amt.Sign() <= 0 {
		return deny(m.ID, ReasonInvalidAmount), false
	}

	// per-action limit
	maxAmt, ok := amount.Parse(m.Scope.MaxAmount)
	if ok && amt.Cmp(maxAmt) > 0 {
		return deny(m.ID, ReasonExceedsMaxAmount), false
	}

	d := &Decision{Approved: true, Reason: "approved", MandateID: m.ID}

	// total budget
	if m.Scope.TotalBudget != "" {
		budget, ok := amount.Parse(m.Scope.TotalBudget)
		if ok {
			used, _ := amount.Parse(m.UsedAmount)
			spent := amount.Add(used, amt)
			if spent.Cmp(budget) > 0 {
				return deny(m.ID, ReasonExceedsBudget), false
			}
			remaining := amount.Sub(budget, spent)
			d.RemainingBudget = amount.Format(remaining)
			if remaining.Cmp(maxAmt) < 0 {
				d.Warnings = append(d.Warnings,
					fmt.Sprintf("remaining budget %s is below the per-action limit %s",
						amount.Format(remaining), m.Scope.MaxAmount))
			}
		}
	}

	// recipients
	if len(m.Scope.AllowedRecipients) > 0 {
		if !containsFold(m.Scope.AllowedRecipients, action.Recipient) {
			return deny(m.ID, ReasonRecipientBlocked), false
		}
	}

	// tokens: a tokened action needs an explicit allowlist hit;
	// native-only mandates reject any tokened action.
	if action.Token != "" {
		if len(m.Scope.AllowedTokens) == 0 {
			return deny(m.ID, ReasonNativeOnly), false
		}
		if !containsFold(m.Scope.AllowedTokens, action.Token) {
			return deny(m.ID, ReasonTokenNotAllowed), false
		}
	}

	// action types
	if len(m.Scope.AllowedActions) > 0 {
		if !containsFold(m.Scope.AllowedActions, string(action.Type)) {
			return deny(m.ID, ReasonActionNotAllowed), false
		}
	}

	// rate limit
	if rl := m.Scope.RateLimit; rl != nil {
		inWindow := m.WindowCount
		windowEnd := m.WindowStart.Add(time.Duration(rl.PeriodSeconds) * time.Second)
		if m.WindowStart.IsZero() || now.After(windowEnd) {
			inWindow = 0
		}
		if inWindow >= rl.MaxTransactions {
			return deny(m.ID, ReasonRateLimitExceeded), false
		}
		slots := rl.MaxTransactions - inWindow - 1
		d.RemainingTransactions = &slots
	}

	return d, false
}

// ExecuteAction validates the action and, if approved, records it with a
// fresh settlement reference. The whole sequence holds the mandate's key
// lock, so concurrent executions against one mandate serialize and the
// budget bound holds.
func (a *Authority) ExecuteAction(ctx context.Context, mandateID string, action Action) (*ExecutionResult, error) {
	ctx, span := traces.StartSpan(ctx, "mandate.execute",
		traces.MandateID(mandateID), traces.Amount(action.Amount))
	defer span.End()

	unlock := a.locks.Lock(mandateID)
	defer unlock()

	m, err := a.store.Get(ctx, mandateID)
	if err != nil {
		metrics.MandateExecutionsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrMandateNotFound
	}

	d := a.validate(ctx, m, action, time.Now())
	if !d.Approved {
		metrics.MandateExecutionsTotal.WithLabelValues("rejected").Inc()
		return nil, &NotApprovedError{Reason: d.Reason}
	}

	reference := "stl_" + idgen.Hex(12)
	if err := a.recordLocked(ctx, m, action, time.Now()); err != nil {
		metrics.MandateExecutionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.MandateExecutionsTotal.WithLabelValues("executed").Inc()
	return &ExecutionResult{
		MandateID:  mandateID,
		Reference:  reference,
		Decision:   d,
		ExecutedAt: time.Now(),
	}, nil
}

// RecordExecution increments the mandate's usage after an externally
// executed action. Fails with a structural error if the mandate is absent.
func (a *Authority) RecordExecution(ctx context.Context, mandateID string, action Action, reference string) error {
	unlock := a.locks.Lock(mandateID)
	defer unlock()

	m, err := a.store.Get(ctx, mandateID)
	if err != nil {
		return ErrMandateNotFound
	}
	_ = reference // recorded by callers in their own audit trail
	return a.recordLocked(ctx, m, action, time.Now())
}

// recordLocked applies usage to a mandate snapshot. Caller holds the key lock.
func (a *Authority) recordLocked(ctx context.Context, m *Mandate, action Action, now time.Time) error {
	amt, ok := amount.Parse(action.Amount)
	if !ok {
		return &Error{Code: "validation_error", Message: "Invalid amount format"}
	}

	used, _ := amount.Parse(m.UsedAmount)
	m.UsedAmount = amount.Format(amount.Add(used, amt))
	m.TransactionCount++

	if rl := m.Scope.RateLimit; rl != nil {
		windowEnd := m.WindowStart.Add(time.Duration(rl.PeriodSeconds) * time.Second)
		if m.WindowStart.IsZero() || now.After(windowEnd) {
			m.WindowStart = now
			m.WindowCount = 1
		} else {
			m.WindowCount++
		}
	}

	if err := a.store.Update(ctx, m); err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// RevokeMandate marks the mandate revoked. Irreversible.
func (a *Authority) RevokeMandate(ctx context.Context, mandateID string) error {
	unlock := a.locks.Lock(mandateID)
	defer unlock()

	m, err := a.store.Get(ctx, mandateID)
	if err != nil {
		return ErrMandateNotFound
	}
	if m.Status == StatusRevoked {
		return nil // already terminal
	}
	wasActive := m.Status == StatusActive
	m.Status = StatusRevoked
	if err := a.store.Update(ctx, m); err != nil {
		return fmt.Errorf("revoke mandate: %w", err)
	}
	if wasActive {
		metrics.ActiveMandates.Dec()
	}
	return nil
}

// GetMandate returns the mandate by ID.
func (a *Authority) GetMandate(ctx context.Context, mandateID string) (*Mandate, error) {
	return a.store.Get(ctx, mandateID)
}

// GetMandatesForAgent returns all mandates granted to an agent.
func (a *Authority) GetMandatesForAgent(ctx context.Context, agent string) ([]*Mandate, error) {
	return a.store.GetByAgent(ctx, agent)
}

// GetMandatesFromPrincipal returns all mandates issued by a principal.
func (a *Authority) GetMandatesFromPrincipal(ctx context.Context, principal string) ([]*Mandate, error) {
	return a.store.GetByPrincipal(ctx, principal)
}

// ValidateMandateSignature runs structural checks on the mandate followed by
// cryptographic verification of the authorization proof. All failures are
// itemized rather than short-circuited so callers can report them together.
func (a *Authority) ValidateMandateSignature(_ context.Context, m *Mandate) (*SignatureReport, error) {
	report := &SignatureReport{}

	if !ValidAddress(m.Agent) {
		report.Errors = append(report.Errors, "agent is not a valid address")
	}
	if !ValidAddress(m.Principal) {
		report.Errors = append(report.Errors, "principal is not a valid address")
	}
	if time.Now().After(m.ExpiresAt) {
		report.Errors = append(report.Errors, "mandate is expired")
	}
	if m.Authorization == "" {
		report.Errors = append(report.Errors, "authorization proof is missing")
		return report, nil
	}

	msg := ProofMessage(a.cfg.ChainID, m.Agent, m.Principal, m.Scope.MaxAmount, m.ExpiresAt.Unix(), m.Nonce)
	signer, err := RecoverAddress(msg, m.Authorization)
	if err != nil {
		report.Errors = append(report.Errors, "proof does not verify: "+err.Error())
		return report, nil
	}
	report.Signer = signer

	if !strings.EqualFold(signer, m.Principal) {
		report.Errors = append(report.Errors,
			fmt.Sprintf("recovered signer %s does not match principal %s", signer, m.Principal))
	}

	report.Valid = len(report.Errors) == 0
	return report, nil
}

// HealthCheck verifies the backing store is reachable.
func (a *Authority) HealthCheck(ctx context.Context) error {
	_, err := a.store.CountActive(ctx)
	return err
}

// --- Helpers ---

func deny(mandateID, reason string) *Decision {
	return &Decision{Approved: false, Reason: reason, MandateID: mandateID}
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func validateScope(scope Scope) error {
	maxAmt, ok := amount.Parse(scope.MaxAmount)
	if !ok || maxAmt.Sign() <= 0 {
		return ErrInvalidScope
	}
	if scope.TotalBudget != "" {
		budget, ok := amount.Parse(scope.TotalBudget)
		if !ok || budget.Sign() <= 0 {
			return ErrInvalidScope
		}
		if budget.Cmp(maxAmt) < 0 {
			return &Error{Code: "validation_error", Message: "Total budget is below the per-action limit"}
		}
	}
	if rl := scope.RateLimit; rl != nil {
		if rl.MaxTransactions <= 0 || rl.PeriodSeconds <= 0 {
			return ErrInvalidScope
		}
	}
	return nil
}

// Compile-time check that Authority implements Provider.
var _ Provider = (*Authority)(nil)
