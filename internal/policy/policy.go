// Package policy evaluates proposed actions against a prioritized rule set.
//
// Policies are ordered by ascending priority with insertion order breaking
// ties. Conditions within one policy combine with AND semantics; a matching
// deny short-circuits evaluation, warns accumulate, and allows continue so a
// later deny still applies. A context that matches no deny is allowed.
package policy

import (
	"fmt"
	"time"
)

// Effect is the outcome a matched policy applies.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
	EffectWarn  Effect = "warn"
)

// Condition is a single field comparison within a policy.
type Condition struct {
	// Field is a dotted path into the evaluation context, e.g. "amount"
	// or "data.memo".
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// Supported condition operators.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpIn       = "in"
	OpNotIn    = "notIn"
	OpContains = "contains"
	OpMatches  = "matches"
)

// Policy is a single evaluation rule.
type Policy struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	// Priority orders evaluation; lower evaluates first.
	Priority   int         `json:"priority"`
	Enabled    bool        `json:"enabled"`
	AppliesTo  []string    `json:"appliesTo"` // action types this policy matches
	Conditions []Condition `json:"conditions,omitempty"`
	Effect     Effect      `json:"effect"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Context is the evaluation input. Not persisted.
type Context struct {
	Action    string                 `json:"action"`
	Actor     string                 `json:"actor"`
	Target    string                 `json:"target,omitempty"`
	Amount    string                 `json:"amount,omitempty"` // base units
	Token     string                 `json:"token,omitempty"`
	ChainID   int64                  `json:"chainId,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Decision is the result of evaluating one context.
type Decision struct {
	Allowed               bool      `json:"allowed"`
	Reason                string    `json:"reason"`
	Evaluated             []string  `json:"evaluated,omitempty"` // policy ids, in evaluation order
	DenyingPolicy         string    `json:"denyingPolicy,omitempty"`
	Warnings              []string  `json:"warnings,omitempty"`
	RequiredModifications []string  `json:"requiredModifications,omitempty"`
	EvaluatedAt           time.Time `json:"evaluatedAt"`
}

// BatchDecision aggregates independent evaluations. Allowed is the logical
// AND of the individual decisions.
type BatchDecision struct {
	Allowed   bool        `json:"allowed"`
	Decisions []*Decision `json:"decisions"`
	Denials   []string    `json:"denials,omitempty"` // reasons of rejected contexts
}

// ListFilter narrows ListPolicies results. Zero value matches everything.
type ListFilter struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	AppliesTo string `json:"appliesTo,omitempty"`
}

// BlacklistEntry is an address blocked by the engine's dynamic blacklist.
type BlacklistEntry struct {
	Address string    `json:"address"`
	Reason  string    `json:"reason,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

// Error is a policy error with a machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	ErrPolicyNotFound = &Error{Code: "not_found", Message: "Policy not found"}
	ErrInvalidPolicy  = &Error{Code: "validation_error", Message: "Policy definition is invalid"}
)
