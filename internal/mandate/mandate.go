// Package mandate implements bounded spending authority for autonomous agents.
//
// A mandate is a grant from a principal to an agent: "this agent may spend on
// my behalf, within these limits". Limits cover per-action amount, total
// budget, recipients, tokens, action types, and transaction rate. Every
// proposed action is validated against the mandate's remaining capacity, and
// executed actions are recorded back into its running usage.
//
// Denials are decision-shaped: validation returns a Decision with
// Approved=false and a reason rather than an error. Errors are reserved for
// structural failures (missing mandate on a mutating call, absent signing
// material, store faults).
package mandate

import (
	"time"
)

// Status is the lifecycle state of a mandate.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// ActionType classifies what an agent is trying to do.
type ActionType string

const (
	ActionTransfer ActionType = "transfer"
	ActionSwap     ActionType = "swap"
	ActionStake    ActionType = "stake"
	ActionLend     ActionType = "lend"
)

// RateLimit caps the number of executions within a rolling window.
type RateLimit struct {
	MaxTransactions int `json:"maxTransactions"`
	PeriodSeconds   int `json:"periodSeconds"`
}

// Scope bounds what a mandate permits. Amounts are base-unit strings.
type Scope struct {
	MaxAmount         string     `json:"maxAmount"`                   // per-action cap, required
	TotalBudget       string     `json:"totalBudget,omitempty"`       // cumulative cap, optional
	AllowedRecipients []string   `json:"allowedRecipients,omitempty"` // empty = any recipient
	AllowedTokens     []string   `json:"allowedTokens,omitempty"`     // empty = native asset only
	AllowedActions    []string   `json:"allowedActions,omitempty"`    // empty = any action type
	RateLimit         *RateLimit `json:"rateLimit,omitempty"`
}

// Mandate is a bounded spending authorization from a principal to an agent.
// Mandates are never deleted; terminal states are retained for audit.
type Mandate struct {
	ID            string    `json:"id"`
	Agent         string    `json:"agent"`
	Principal     string    `json:"principal"`
	Scope         Scope     `json:"scope"`
	ExpiresAt     time.Time `json:"expiresAt"`
	Authorization string    `json:"authorization,omitempty"` // hex-encoded proof
	Nonce         uint64    `json:"nonce"`
	CreatedAt     time.Time `json:"createdAt"`
	Status        Status    `json:"status"`

	// Usage tracking
	UsedAmount       string `json:"usedAmount"` // base units
	TransactionCount int    `json:"transactionCount"`

	// Rate-limit window state
	WindowStart time.Time `json:"windowStart,omitempty"`
	WindowCount int       `json:"windowCount"`
}

// Action is a proposed transfer to be checked against a mandate.
// Ephemeral; evaluated but never persisted.
type Action struct {
	Type      ActionType             `json:"type"`
	Recipient string                 `json:"recipient"`
	Amount    string                 `json:"amount"`          // base units
	Token     string                 `json:"token,omitempty"` // empty = native asset
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Decision is the outcome of validating an action against a mandate.
// Produced fresh per call; never stored.
type Decision struct {
	Approved              bool     `json:"approved"`
	Reason                string   `json:"reason"`
	MandateID             string   `json:"mandateId"`
	RemainingBudget       string   `json:"remainingBudget,omitempty"`
	RemainingTransactions *int     `json:"remainingTransactions,omitempty"`
	Warnings              []string `json:"warnings,omitempty"`
}

// ExecutionResult is returned by ExecuteAction on success.
type ExecutionResult struct {
	MandateID  string    `json:"mandateId"`
	Reference  string    `json:"reference"` // settlement reference
	Decision   *Decision `json:"decision"`
	ExecutedAt time.Time `json:"executedAt"`
}

// SignatureReport itemizes the checks performed on a mandate's
// authorization proof.
type SignatureReport struct {
	Valid  bool     `json:"valid"`
	Signer string   `json:"signer,omitempty"` // recovered address
	Errors []string `json:"errors,omitempty"`
}

// Error is a coded structural failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Structural errors.
var (
	ErrMandateNotFound   = &Error{Code: "not_found", Message: "Mandate not found"}
	ErrMandateRevoked    = &Error{Code: "revoked", Message: "Mandate has been revoked"}
	ErrMandateExpired    = &Error{Code: "expired", Message: "Mandate has expired"}
	ErrMissingSigningKey = &Error{Code: "configuration_error", Message: "Signing key is required but not configured"}
	ErrInvalidAddress    = &Error{Code: "validation_error", Message: "Invalid address"}
	ErrInvalidScope      = &Error{Code: "validation_error", Message: "Invalid mandate scope"}
	ErrSignatureInvalid  = &Error{Code: "signature_error", Message: "Authorization proof does not verify"}
)

// NotApprovedError is returned by ExecuteAction when validation rejects the
// action. It carries the decision reason so callers can branch on it.
type NotApprovedError struct {
	Reason string
}

func (e *NotApprovedError) Error() string {
	return "action not approved: " + e.Reason
}

// Decision reasons for scope violations. These are decision payloads, not
// error codes: callers see them in Decision.Reason.
const (
	ReasonMandateNotFound   = "mandate not found"
	ReasonMandateRevoked    = "mandate has been revoked"
	ReasonMandateExpired    = "mandate has expired"
	ReasonInvalidAmount     = "invalid action amount"
	ReasonExceedsMaxAmount  = "amount exceeds per-action limit"
	ReasonExceedsBudget     = "amount would exceed total budget"
	ReasonRecipientBlocked  = "recipient is not in allowed list"
	ReasonTokenNotAllowed   = "token is not in allowed list"
	ReasonNativeOnly        = "mandate does not permit token transfers"
	ReasonActionNotAllowed  = "action type is not allowed"
	ReasonRateLimitExceeded = "rate limit exceeded for this mandate"
)

// IsTerminal reports whether the mandate can no longer authorize actions.
func (m *Mandate) IsTerminal() bool {
	return m.Status != StatusActive
}
