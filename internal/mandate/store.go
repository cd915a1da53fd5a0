package mandate

import "context"

// Store defines the interface for mandate persistence.
// Mandates are append-and-update only: terminal mandates stay queryable.
type Store interface {
	Create(ctx context.Context, m *Mandate) error
	Get(ctx context.Context, id string) (*Mandate, error)
	Update(ctx context.Context, m *Mandate) error
	GetByAgent(ctx context.Context, agent string) ([]*Mandate, error)
	GetByPrincipal(ctx context.Context, principal string) ([]*Mandate, error)
	CountActive(ctx context.Context) (int64, error)
}
