package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
// Schema is managed by the goose migrations under migrations/.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, assessment *RiskAssessment) error {
	patternsJSON, err := json.Marshal(assessment.Patterns)
	if err != nil {
		return fmt.Errorf("failed to marshal patterns: %w", err)
	}
	providersJSON, err := json.Marshal(assessment.Providers)
	if err != nil {
		return fmt.Errorf("failed to marshal providers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(id, transaction_id, threat_level, score, base_score, patterns, providers, agreement, action, containment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
	`,
		assessment.ID,
		assessment.TransactionID,
		string(assessment.ThreatLevel),
		assessment.Score,
		assessment.BaseScore,
		patternsJSON,
		providersJSON,
		assessment.Agreement,
		string(assessment.Action),
		assessment.ContainmentID,
		assessment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*RiskAssessment, error) {
	return s.queryOne(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetByTransaction(ctx context.Context, txID string) (*RiskAssessment, error) {
	return s.queryOne(ctx, `WHERE transaction_id = $1`, txID)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*RiskAssessment, error) {
	rows, err := s.db.QueryContext(ctx, selectAssessment+`
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			continue
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

const selectAssessment = `
	SELECT id, transaction_id, threat_level, score, base_score, patterns, providers, agreement, action, COALESCE(containment_id, ''), created_at
	FROM risk_assessments
`

func (s *PostgresStore) queryOne(ctx context.Context, where string, arg any) (*RiskAssessment, error) {
	row := s.db.QueryRowContext(ctx, selectAssessment+where, arg)
	a, err := scanAssessment(row)
	if err == sql.ErrNoRows {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*RiskAssessment, error) {
	var a RiskAssessment
	var patternsJSON, providersJSON []byte

	err := row.Scan(&a.ID, &a.TransactionID, &a.ThreatLevel, &a.Score, &a.BaseScore,
		&patternsJSON, &providersJSON, &a.Agreement, &a.Action, &a.ContainmentID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(patternsJSON, &a.Patterns)
	_ = json.Unmarshal(providersJSON, &a.Providers)
	return &a, nil
}
