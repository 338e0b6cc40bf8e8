package recovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists recovery requests in PostgreSQL. Checks, approvals,
// and evidence live in JSONB columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed recovery store.
// Schema is managed by the goose migrations under migrations/.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *Request) error {
	checks, approvals, evidence, err := encodeDocs(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recovery_requests
			(id, containment_id, claimant, evidence, checks, approvals,
			 required_approvals, status, restored_value, deadline,
			 created_at, updated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		r.ID, r.ContainmentID, r.Claimant, evidence, checks, approvals,
		r.RequiredApprovals, string(r.Status), r.RestoredValue, r.Deadline,
		r.CreatedAt, r.UpdatedAt, r.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recovery request: %w", err)
	}
	return nil
}

const selectRequest = `
	SELECT id, containment_id, claimant, evidence, checks, approvals,
	       required_approvals, status, restored_value, deadline,
	       created_at, updated_at, resolved_at
	FROM recovery_requests
`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	return s.queryOne(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetByContainment(ctx context.Context, containmentID string) (*Request, error) {
	return s.queryOne(ctx, `WHERE containment_id = $1 ORDER BY created_at DESC LIMIT 1`, containmentID)
}

func (s *PostgresStore) Update(ctx context.Context, r *Request) error {
	checks, approvals, _, err := encodeDocs(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE recovery_requests
		SET checks = $2, approvals = $3, status = $4, restored_value = $5,
		    updated_at = $6, resolved_at = $7
		WHERE id = $1
	`, r.ID, checks, approvals, string(r.Status), r.RestoredValue,
		r.UpdatedAt, r.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update recovery request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecoveryNotFound
	}
	return nil
}

func (s *PostgresStore) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, selectRequest+`
		WHERE status = 'pending' AND deadline < $1
		ORDER BY deadline ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue recovery requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) queryOne(ctx context.Context, where string, args ...any) (*Request, error) {
	row := s.db.QueryRowContext(ctx, selectRequest+where, args...)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrRecoveryNotFound
	}
	return r, err
}

func encodeDocs(r *Request) (checks, approvals, evidence []byte, err error) {
	if checks, err = json.Marshal(r.Checks); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode checks: %w", err)
	}
	if approvals, err = json.Marshal(r.Approvals); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode approvals: %w", err)
	}
	if evidence, err = json.Marshal(r.Evidence); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode evidence: %w", err)
	}
	return checks, approvals, evidence, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		r        Request
		status   string
		checks   []byte
		appr     []byte
		evidence []byte
	)
	err := row.Scan(
		&r.ID, &r.ContainmentID, &r.Claimant, &evidence, &checks, &appr,
		&r.RequiredApprovals, &status, &r.RestoredValue, &r.Deadline,
		&r.CreatedAt, &r.UpdatedAt, &r.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if err := json.Unmarshal(checks, &r.Checks); err != nil {
		return nil, fmt.Errorf("failed to decode checks: %w", err)
	}
	if err := json.Unmarshal(appr, &r.Approvals); err != nil {
		return nil, fmt.Errorf("failed to decode approvals: %w", err)
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &r.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode evidence: %w", err)
		}
	}
	return &r, nil
}
