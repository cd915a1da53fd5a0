package risk

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore is a PostgreSQL-backed implementation of Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, transaction_id, sender, recipient, amount, risk_score, risk_level, should_block, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.TransactionID, a.Sender, a.Recipient, a.Amount,
		a.RiskScore, string(a.RiskLevel), a.ShouldBlock, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentBySender(ctx context.Context, sender string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, sender, recipient, amount, risk_score, risk_level, should_block, created_at
		FROM risk_assessments
		WHERE LOWER(sender) = LOWER($1)
		ORDER BY created_at DESC
		LIMIT $2`, sender, limit)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var out []*Assessment
	for rows.Next() {
		var a Assessment
		var level string
		if err := rows.Scan(
			&a.ID, &a.TransactionID, &a.Sender, &a.Recipient, &a.Amount,
			&a.RiskScore, &level, &a.ShouldBlock, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		a.RiskLevel = Level(level)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM risk_assessments`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assessments: %w", err)
	}
	return n, nil
}
