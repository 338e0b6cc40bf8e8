package provider

import (
	"context"

	"github.com/aeges-net/aeges/internal/risk"
)

// Fallback is a local, deterministic provider of last resort. It derives a
// low-confidence verdict from the same heuristics the risk engine uses, so
// the pipeline can still complete when every external backend is down.
type Fallback struct {
	engine *risk.Engine
}

// NewFallback creates the local fallback adapter.
func NewFallback() *Fallback {
	return &Fallback{engine: risk.NewEngine()}
}

func (f *Fallback) Name() string { return string(KindFallback) }
func (f *Fallback) Kind() Kind   { return KindFallback }

// fallbackConfidence is deliberately low: a heuristic echo should never
// dominate a real model's verdict in aggregation.
const fallbackConfidence = 0.3

func (f *Fallback) Analyze(ctx context.Context, tx *risk.TransactionRecord, prompt string) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyTransport(f.Name(), err)
	}

	score := f.engine.ComputeBaseRisk(tx)
	patterns := f.engine.DetectPatterns(tx)

	dominant := ""
	if len(patterns) > 0 {
		dominant = patterns[0]
	}

	verdict := &Verdict{
		Provider:   f.Name(),
		Confidence: fallbackConfidence,
		RiskScore:  score,
		Pattern:    dominant,
	}
	if score >= 0.6 {
		verdict.Recommendations = []string{"escalate for manual review"}
	}
	observe(f.Name(), nil)
	return verdict, nil
}

func (f *Fallback) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}
