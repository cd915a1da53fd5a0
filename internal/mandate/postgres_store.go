package mandate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed mandate store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const mandateColumns = `
	id, agent_address, principal_address,
	max_amount, total_budget,
	allowed_recipients, allowed_tokens, allowed_actions,
	rate_limit_max, rate_limit_period_seconds,
	expires_at, authorization_proof, nonce, created_at, status,
	used_amount, transaction_count, window_start, window_count`

func (p *PostgresStore) Create(ctx context.Context, m *Mandate) error {
	var rlMax, rlPeriod sql.NullInt64
	if m.Scope.RateLimit != nil {
		rlMax = sql.NullInt64{Int64: int64(m.Scope.RateLimit.MaxTransactions), Valid: true}
		rlPeriod = sql.NullInt64{Int64: int64(m.Scope.RateLimit.PeriodSeconds), Valid: true}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO mandates (`+mandateColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		m.ID,
		strings.ToLower(m.Agent),
		strings.ToLower(m.Principal),
		m.Scope.MaxAmount,
		nullString(m.Scope.TotalBudget),
		pq.Array(m.Scope.AllowedRecipients),
		pq.Array(m.Scope.AllowedTokens),
		pq.Array(m.Scope.AllowedActions),
		rlMax,
		rlPeriod,
		m.ExpiresAt,
		nullString(m.Authorization),
		m.Nonce,
		m.CreatedAt,
		string(m.Status),
		m.UsedAmount,
		m.TransactionCount,
		nullTime(m.WindowStart),
		m.WindowCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create mandate: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Mandate, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+mandateColumns+` FROM mandates WHERE id = $1
	`, id)

	m, err := scanMandate(row)
	if err == sql.ErrNoRows {
		return nil, ErrMandateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mandate: %w", err)
	}
	return m, nil
}

func (p *PostgresStore) Update(ctx context.Context, m *Mandate) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE mandates SET
			status = $2,
			used_amount = $3,
			transaction_count = $4,
			window_start = $5,
			window_count = $6
		WHERE id = $1
	`,
		m.ID,
		string(m.Status),
		m.UsedAmount,
		m.TransactionCount,
		nullTime(m.WindowStart),
		m.WindowCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update mandate: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrMandateNotFound
	}
	return nil
}

func (p *PostgresStore) GetByAgent(ctx context.Context, agent string) ([]*Mandate, error) {
	return p.query(ctx, `
		SELECT `+mandateColumns+` FROM mandates
		WHERE agent_address = $1 ORDER BY created_at DESC
	`, strings.ToLower(agent))
}

func (p *PostgresStore) GetByPrincipal(ctx context.Context, principal string) ([]*Mandate, error) {
	return p.query(ctx, `
		SELECT `+mandateColumns+` FROM mandates
		WHERE principal_address = $1 ORDER BY created_at DESC
	`, strings.ToLower(principal))
}

func (p *PostgresStore) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mandates
		WHERE status = 'active' AND expires_at > NOW()
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active mandates: %w", err)
	}
	return n, nil
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...interface{}) ([]*Mandate, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mandates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Mandate
	for rows.Next() {
		m, err := scanMandate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mandate: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMandate(row rowScanner) (*Mandate, error) {
	var m Mandate
	var totalBudget, proof sql.NullString
	var rlMax, rlPeriod sql.NullInt64
	var windowStart sql.NullTime
	var recipients, tokens, actions pq.StringArray
	var status string

	err := row.Scan(
		&m.ID, &m.Agent, &m.Principal,
		&m.Scope.MaxAmount, &totalBudget,
		&recipients, &tokens, &actions,
		&rlMax, &rlPeriod,
		&m.ExpiresAt, &proof, &m.Nonce, &m.CreatedAt, &status,
		&m.UsedAmount, &m.TransactionCount, &windowStart, &m.WindowCount,
	)
	if err != nil {
		return nil, err
	}

	m.Scope.TotalBudget = totalBudget.String
	m.Scope.AllowedRecipients = recipients
	m.Scope.AllowedTokens = tokens
	m.Scope.AllowedActions = actions
	if rlMax.Valid && rlPeriod.Valid {
		m.Scope.RateLimit = &RateLimit{
			MaxTransactions: int(rlMax.Int64),
			PeriodSeconds:   int(rlPeriod.Int64),
		}
	}
	m.Authorization = proof.String
	m.Status = Status(status)
	if windowStart.Valid {
		m.WindowStart = windowStart.Time
	}
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
