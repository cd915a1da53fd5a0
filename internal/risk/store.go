package risk

import (
	"context"
	"time"
)

// Assessment is the persisted audit record of one transaction analysis.
type Assessment struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Amount        string    `json:"amount"`
	RiskScore     float64   `json:"riskScore"`
	RiskLevel     Level     `json:"riskLevel"`
	ShouldBlock   bool      `json:"shouldBlock"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store defines the interface for assessment audit persistence. Recording is
// fire-and-forget from the analysis path; reads serve reporting surfaces.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	RecentBySender(ctx context.Context, sender string, limit int) ([]*Assessment, error)
	Count(ctx context.Context) (int64, error)
}
