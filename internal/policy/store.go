package policy

import "context"

// Store defines the interface for policy persistence. List returns policies
// in insertion order; the engine relies on that order to break priority ties.
type Store interface {
	Create(ctx context.Context, p *Policy) error
	Update(ctx context.Context, p *Policy) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Policy, error)
	List(ctx context.Context) ([]*Policy, error)
	Count(ctx context.Context) (int64, error)
}
