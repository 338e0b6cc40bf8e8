// Package risk implements deterministic behavioral risk scoring for
// transactions.
//
// Every transaction gets a base score from amount tiers, account age, and
// prior activity, plus a set of matched behavioral pattern tags. Scores
// range from 0.0 (safe) to 1.0 (high risk) and map onto four ordered threat
// levels, each bound to a containment action.
package risk

import (
	"context"
	"time"
)

// ThreatLevel is the ordered classification of a risk score.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Rank returns the ordinal position of the threat level, low first.
func (t ThreatLevel) Rank() int {
	switch t {
	case ThreatLow:
		return 0
	case ThreatMedium:
		return 1
	case ThreatHigh:
		return 2
	case ThreatCritical:
		return 3
	default:
		return -1
	}
}

// Action is the decision taken for a threat level.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionMonitor Action = "monitor"
	ActionContain Action = "contain"
)

// Pattern tags matched by the rule-based detector.
const (
	PatternLargeAmount      = "large_amount"
	PatternVeryLargeAmount  = "very_large_amount"
	PatternNewAccount       = "new_account"
	PatternFirstTransaction = "first_transaction"
	PatternDormantAccount   = "dormant_account"
	PatternHighVelocity     = "high_velocity"
	PatternRoundAmount      = "round_amount"
)

// TransactionRecord is the validated input to the pipeline.
// Immutable once accepted.
type TransactionRecord struct {
	ID                   string    `json:"id"`
	Amount               float64   `json:"amount"`
	Timestamp            time.Time `json:"timestamp"`
	Origin               string    `json:"origin"`
	Destination          string    `json:"destination"`
	AssetType            string    `json:"assetType"`
	AccountAgeDays       int       `json:"accountAgeDays"`
	PreviousTransactions int       `json:"previousTransactions"`
	PriorVolume          float64   `json:"priorVolume"`
}

// RiskAssessment is the result of analyzing a single transaction.
// Created once per analysis and never mutated afterwards.
type RiskAssessment struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transactionId"`
	ThreatLevel   ThreatLevel `json:"threatLevel"`
	Score         float64     `json:"score"`
	BaseScore     float64     `json:"baseScore"`
	Patterns      []string    `json:"patterns"`
	Providers     []string    `json:"providers"`
	Agreement     bool        `json:"agreement"`
	Action        Action      `json:"action"`
	ContainmentID string      `json:"containmentId,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Store is the append-only assessment history. Appends must be safe under
// concurrent writers; records are never updated.
type Store interface {
	Record(ctx context.Context, assessment *RiskAssessment) error
	Get(ctx context.Context, id string) (*RiskAssessment, error)
	GetByTransaction(ctx context.Context, txID string) (*RiskAssessment, error)
	ListRecent(ctx context.Context, limit int) ([]*RiskAssessment, error)
}
