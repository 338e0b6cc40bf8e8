package containment

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists containments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed containment store.
// Schema is managed by the goose migrations under migrations/.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c *Containment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO containments
			(id, analysis_id, transaction_id, wallet_address, severity, economic_state, status,
			 amount, restored_value, required_approvals, recovery_deadline_secs,
			 propagated_at, created_at, updated_at, expires_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		c.ID, c.AnalysisID, c.TransactionID, c.WalletAddress,
		string(c.Severity), string(c.EconomicState), string(c.Status),
		c.Amount, c.RestoredValue,
		c.Protocol.RequiredApprovals, int64(c.Protocol.Deadline/time.Second),
		c.PropagatedAt, c.CreatedAt, c.UpdatedAt, c.ExpiresAt, c.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create containment: %w", err)
	}
	return nil
}

const selectContainment = `
	SELECT id, analysis_id, transaction_id, wallet_address, severity, economic_state, status,
	       amount, restored_value, required_approvals, recovery_deadline_secs,
	       propagated_at, created_at, updated_at, expires_at, resolved_at
	FROM containments
`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Containment, error) {
	return s.queryOne(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetByTransaction(ctx context.Context, txID string) (*Containment, error) {
	return s.queryOne(ctx, `WHERE transaction_id = $1 ORDER BY created_at DESC LIMIT 1`, txID)
}

func (s *PostgresStore) ListByWallet(ctx context.Context, wallet string, limit int) ([]*Containment, error) {
	rows, err := s.db.QueryContext(ctx, selectContainment+`
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list containments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAll(rows)
}

func (s *PostgresStore) Update(ctx context.Context, c *Containment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE containments
		SET status = $2, economic_state = $3, restored_value = $4,
		    propagated_at = $5, updated_at = $6, resolved_at = $7
		WHERE id = $1
	`, c.ID, string(c.Status), string(c.EconomicState), c.RestoredValue,
		c.PropagatedAt, c.UpdatedAt, c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update containment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContainmentNotFound
	}
	return nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Containment, error) {
	rows, err := s.db.QueryContext(ctx, selectContainment+`
		WHERE status IN ('active', 'recovery_pending') AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired containments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanAll(rows)
}

func (s *PostgresStore) queryOne(ctx context.Context, where string, arg any) (*Containment, error) {
	row := s.db.QueryRowContext(ctx, selectContainment+where, arg)
	c, err := scanContainment(row)
	if err == sql.ErrNoRows {
		return nil, ErrContainmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load containment: %w", err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContainment(row rowScanner) (*Containment, error) {
	var c Containment
	var deadlineSecs int64

	err := row.Scan(&c.ID, &c.AnalysisID, &c.TransactionID, &c.WalletAddress,
		&c.Severity, &c.EconomicState, &c.Status,
		&c.Amount, &c.RestoredValue,
		&c.Protocol.RequiredApprovals, &deadlineSecs,
		&c.PropagatedAt, &c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}
	c.Protocol.Deadline = time.Duration(deadlineSecs) * time.Second
	return &c, nil
}

func scanAll(rows *sql.Rows) ([]*Containment, error) {
	var result []*Containment
	for rows.Next() {
		c, err := scanContainment(rows)
		if err != nil {
			continue
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
