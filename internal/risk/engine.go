package risk

import (
	"math"
	"sort"
)

// Base score clamp range. A transaction never scores below the floor (all
// activity carries residual risk) nor above the ceiling on heuristics alone.
const (
	baseFloor   = 0.10
	baseCeiling = 0.95
)

// Amount tier cutoffs in asset base units.
const (
	tierVeryLarge = 1_000_000
	tierLarge     = 100_000
	tierElevated  = 10_000
	tierModerate  = 1_000
)

// Boundaries partitions [0,1] into the four threat levels.
// Must satisfy 0 < MediumAt < HighAt < CriticalAt <= 1.
type Boundaries struct {
	MediumAt   float64
	HighAt     float64
	CriticalAt float64
}

// DefaultBoundaries matches the documented classification:
// low [0,0.4), medium [0.4,0.6), high [0.6,0.8), critical [0.8,1].
func DefaultBoundaries() Boundaries {
	return Boundaries{MediumAt: 0.4, HighAt: 0.6, CriticalAt: 0.8}
}

// Default tuning for consensus integration and velocity detection.
const (
	DefaultMaxAIWeight        = 0.4
	DefaultVelocityMultiplier = 10.0
	DefaultVelocityMaxAgeDays = 30
)

// Engine computes deterministic base risk, pattern tags, and final
// classification. All methods are pure; the engine holds only
// configuration and is safe for concurrent use.
type Engine struct {
	boundaries         Boundaries
	maxAIWeight        float64
	velocityMultiplier float64
	velocityMaxAgeDays int
	policy             map[ThreatLevel]Action
}

// NewEngine creates an engine with default tuning.
func NewEngine() *Engine {
	return &Engine{
		boundaries:         DefaultBoundaries(),
		maxAIWeight:        DefaultMaxAIWeight,
		velocityMultiplier: DefaultVelocityMultiplier,
		velocityMaxAgeDays: DefaultVelocityMaxAgeDays,
		policy: map[ThreatLevel]Action{
			ThreatLow:      ActionAllow,
			ThreatMedium:   ActionMonitor,
			ThreatHigh:     ActionContain,
			ThreatCritical: ActionContain,
		},
	}
}

// WithBoundaries overrides the threat level boundaries.
func (e *Engine) WithBoundaries(b Boundaries) *Engine {
	e.boundaries = b
	return e
}

// WithMaxAIWeight overrides the cap on consensus influence.
func (e *Engine) WithMaxAIWeight(w float64) *Engine {
	e.maxAIWeight = w
	return e
}

// WithPolicy overrides the action taken for a threat level.
func (e *Engine) WithPolicy(level ThreatLevel, action Action) *Engine {
	e.policy[level] = action
	return e
}

// ComputeBaseRisk derives the deterministic base score from amount tiers,
// account age, and prior transaction count. Result is clamped to
// [0.10, 0.95].
func (e *Engine) ComputeBaseRisk(tx *TransactionRecord) float64 {
	var score float64

	switch {
	case tx.Amount >= tierVeryLarge:
		score += 0.45
	case tx.Amount >= tierLarge:
		score += 0.35
	case tx.Amount >= tierElevated:
		score += 0.25
	case tx.Amount >= tierModerate:
		score += 0.15
	default:
		score += 0.05
	}

	switch {
	case tx.AccountAgeDays <= 0:
		score += 0.30
	case tx.AccountAgeDays < 7:
		score += 0.25
	case tx.AccountAgeDays < 30:
		score += 0.15
	case tx.AccountAgeDays < 180:
		score += 0.05
	}

	switch {
	case tx.PreviousTransactions == 0:
		score += 0.20
	case tx.PreviousTransactions < 5:
		score += 0.10
	case tx.PreviousTransactions < 25:
		score += 0.05
	}

	return clamp(score, baseFloor, baseCeiling)
}

// DetectPatterns returns the sorted set of behavioral pattern tags the
// transaction matches. Deterministic and order-independent.
func (e *Engine) DetectPatterns(tx *TransactionRecord) []string {
	tags := make(map[string]bool)

	if tx.Amount >= tierElevated {
		tags[PatternLargeAmount] = true
	}
	if tx.Amount >= tierVeryLarge {
		tags[PatternVeryLargeAmount] = true
	}
	if tx.AccountAgeDays < 7 {
		tags[PatternNewAccount] = true
	}
	if tx.PreviousTransactions == 0 {
		tags[PatternFirstTransaction] = true
	}
	if tx.AccountAgeDays >= 365 && tx.PreviousTransactions < 5 {
		tags[PatternDormantAccount] = true
	}
	if tx.Amount >= tierModerate && math.Mod(tx.Amount, 1000) == 0 {
		tags[PatternRoundAmount] = true
	}
	if e.CheckVelocityAnomaly(tx) {
		tags[PatternHighVelocity] = true
	}

	result := make([]string, 0, len(tags))
	for tag := range tags {
		result = append(result, tag)
	}
	sort.Strings(result)
	return result
}

// CheckVelocityAnomaly reports whether the current amount exceeds the
// configured multiple of the account's historical average volume while the
// account is still young.
func (e *Engine) CheckVelocityAnomaly(tx *TransactionRecord) bool {
	if tx.PreviousTransactions <= 0 {
		return false // no history to compare against
	}
	if tx.AccountAgeDays >= e.velocityMaxAgeDays {
		return false
	}
	avg := tx.PriorVolume / float64(tx.PreviousTransactions)
	if avg <= 0 {
		return false
	}
	return tx.Amount > avg*e.velocityMultiplier
}

// IntegrateConsensus blends the deterministic base score with the
// AI consensus: final = base*(1-w) + consensusRisk*w where
// w = consensusConfidence * maxAIWeight. Result is clamped to [0,1].
func (e *Engine) IntegrateConsensus(base, consensusRisk, consensusConfidence float64) float64 {
	w := clamp(consensusConfidence, 0, 1) * e.maxAIWeight
	return clamp(base*(1-w)+consensusRisk*w, 0, 1)
}

// ClassifyThreatLevel maps a score onto a threat level. Total and
// monotonic over [0,1]; scores outside the range clamp to the extremes.
func (e *Engine) ClassifyThreatLevel(score float64) ThreatLevel {
	switch {
	case score >= e.boundaries.CriticalAt:
		return ThreatCritical
	case score >= e.boundaries.HighAt:
		return ThreatHigh
	case score >= e.boundaries.MediumAt:
		return ThreatMedium
	default:
		return ThreatLow
	}
}

// DecideAction returns the configured action for a threat level.
func (e *Engine) DecideAction(level ThreatLevel) Action {
	if action, ok := e.policy[level]; ok {
		return action
	}
	return ActionMonitor // unknown levels get watched, not waved through
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
