// Package risk maintains address reputation, a severity-graded blacklist,
// and transaction threat scoring.
//
// Reputation reads are cached with a validity window and recomputed lazily;
// blacklisting an address invalidates its cached score. Transaction analysis
// has a deliberate write side effect: every analyzed transaction joins a
// bounded per-sender history that feeds later velocity and pattern checks.
package risk

import (
	"fmt"
	"time"
)

// Level grades risk for reputations and analyses.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// reputationLevel maps a reputation score to its band. Higher scores are
// better.
func reputationLevel(score float64) Level {
	switch {
	case score >= 70:
		return LevelLow
	case score >= 50:
		return LevelMedium
	case score >= 25:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// analysisLevel maps a transaction risk score to its band. Higher scores are
// worse.
func analysisLevel(score float64) Level {
	switch {
	case score < 20:
		return LevelLow
	case score < 40:
		return LevelMedium
	case score < 70:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Factor is one contribution to a reputation score.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	Weight       float64 `json:"weight"`
	Description  string  `json:"description,omitempty"`
}

// ReputationScore is a cached, factor-decomposed trust score for an address.
// Score is always within [0,100]; ValidUntil is strictly after UpdatedAt.
type ReputationScore struct {
	Address    string    `json:"address"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"` // 0..1, scales with history size
	RiskLevel  Level     `json:"riskLevel"`
	Factors    []Factor  `json:"factors"`
	UpdatedAt  time.Time `json:"updatedAt"`
	ValidUntil time.Time `json:"validUntil"`
}

// Severity grades blacklist entries.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityDanger   Severity = "danger"
	SeverityCritical Severity = "critical"
)

// BlacklistEntry is a blocked address. A nil ExpiresAt means permanent.
type BlacklistEntry struct {
	Address   string     `json:"address"`
	Reason    string     `json:"reason,omitempty"`
	Severity  Severity   `json:"severity"`
	Source    string     `json:"source,omitempty"`
	AddedAt   time.Time  `json:"addedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
}

func (e *BlacklistEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// BlacklistFilter narrows GetBlacklist results. Zero value matches everything.
type BlacklistFilter struct {
	Severity Severity `json:"severity,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// Transaction is the analysis input.
type Transaction struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    string    `json:"amount"` // base units
	Token     string    `json:"token,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ThreatIndicator is one detected threat within an analysis.
type ThreatIndicator struct {
	Type        string                 `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Threat indicator types.
const (
	ThreatBlacklist  = "blacklist"
	ThreatHighValue  = "high_value"
	ThreatVelocity   = "velocity"
	ThreatReputation = "reputation"
)

// TransactionAnalysis is the scoring result for a single transaction.
type TransactionAnalysis struct {
	TransactionID   string            `json:"transactionId"`
	RiskScore       float64           `json:"riskScore"` // 0..100
	RiskLevel       Level             `json:"riskLevel"`
	Threats         []ThreatIndicator `json:"threats,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	ShouldBlock     bool              `json:"shouldBlock"`
	AnalyzedAt      time.Time         `json:"analyzedAt"`
}

// Pattern is a batch-level behavioral finding.
type Pattern struct {
	Type        string   `json:"type"`
	Addresses   []string `json:"addresses"`
	Confidence  float64  `json:"confidence"` // 0..1
	Description string   `json:"description"`
	Occurrences int      `json:"occurrences,omitempty"`
}

// Pattern types.
const (
	PatternSelfTransfer = "suspicious"
	PatternWashTrading  = "wash_trading"
)

// Alert is a monitoring event attached to an address.
type Alert struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Error is a risk error with a machine-readable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
