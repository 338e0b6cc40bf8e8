// Package consensus merges verdicts from multiple analysis providers into a
// single result.
//
// Two modes: sequential fallback walks providers in priority order and
// returns the first success; parallel consensus fans out to up to K
// providers, tolerates partial failure, and aggregates the survivors by
// confidence-weighted voting.
package consensus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/aeges-net/aeges/internal/circuitbreaker"
	"github.com/aeges-net/aeges/internal/provider"
	"github.com/aeges-net/aeges/internal/ratelimit"
	"github.com/aeges-net/aeges/internal/risk"
	"github.com/aeges-net/aeges/internal/traces"
)

var (
	// ErrAllProvidersUnavailable: every provider in the fallback chain failed.
	ErrAllProvidersUnavailable = errors.New("all providers unavailable")
	// ErrNoValidAnalysis: no provider produced a usable verdict in parallel mode.
	ErrNoValidAnalysis = errors.New("no valid analysis")
	// ErrLowAgreement: survivors disagreed below the configured threshold
	// (surfaced only in strict mode).
	ErrLowAgreement = errors.New("provider agreement below threshold")
)

// Result is the merged verdict of one consensus round.
type Result struct {
	RiskScore      float64  `json:"riskScore"`
	Confidence     float64  `json:"confidence"` // mean confidence of contributors
	WinningPattern string   `json:"winningPattern"`
	Agreement      bool     `json:"agreement"`
	AgreementShare float64  `json:"agreementShare"`
	Providers      []string `json:"providers"`
}

var consensusRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aeges",
	Subsystem: "consensus",
	Name:      "runs_total",
	Help:      "Consensus rounds by mode and outcome.",
}, []string{"mode", "outcome"})

func init() {
	prometheus.MustRegister(consensusRuns)
}

// DefaultThreshold is the winning-weight share needed for agreement.
const DefaultThreshold = 0.6

// Aggregator runs consensus rounds against a provider set, consulting the
// shared rate limiter and circuit breaker before each call.
type Aggregator struct {
	limiter   *ratelimit.Limiter
	breaker   *circuitbreaker.Breaker
	timeout   time.Duration
	threshold float64
	logger    *slog.Logger
}

// NewAggregator creates an aggregator. The limiter may be nil (unlimited).
func NewAggregator(limiter *ratelimit.Limiter, callTimeout time.Duration, logger *slog.Logger) *Aggregator {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		limiter:   limiter,
		timeout:   callTimeout,
		threshold: DefaultThreshold,
		logger:    logger,
	}
}

// WithThreshold overrides the agreement threshold.
func (a *Aggregator) WithThreshold(t float64) *Aggregator {
	a.threshold = t
	return a
}

// WithBreaker attaches a circuit breaker keyed by provider name. A provider
// whose circuit is open is skipped without counting against the rate limit.
func (a *Aggregator) WithBreaker(b *circuitbreaker.Breaker) *Aggregator {
	a.breaker = b
	return a
}

// Sequential tries providers in priority order and returns the first
// successful verdict as a solo consensus. Fails with
// ErrAllProvidersUnavailable only when every provider fails.
func (a *Aggregator) Sequential(ctx context.Context, tx *risk.TransactionRecord, prompt string, providers []provider.Adapter) (*Result, error) {
	for _, p := range providers {
		verdict, err := a.callOne(ctx, p, tx, prompt)
		if err != nil {
			a.logger.Debug("provider failed, falling back", "provider", p.Name(), "error", err)
			if ctx.Err() != nil {
				break // caller cancelled; stop walking the chain
			}
			continue
		}
		consensusRuns.WithLabelValues("sequential", "ok").Inc()
		return a.aggregate([]*provider.Verdict{verdict}), nil
	}
	consensusRuns.WithLabelValues("sequential", "unavailable").Inc()
	return nil, ErrAllProvidersUnavailable
}

// Parallel invokes up to k providers concurrently, waits for all calls to
// settle, discards failures, and aggregates the survivors. Fails with
// ErrNoValidAnalysis when nothing succeeds.
func (a *Aggregator) Parallel(ctx context.Context, tx *risk.TransactionRecord, prompt string, providers []provider.Adapter, k int) (*Result, error) {
	if k <= 0 || k > len(providers) {
		k = len(providers)
	}
	selected := providers[:k]

	verdicts := make([]*provider.Verdict, len(selected))
	var g errgroup.Group
	for i, p := range selected {
		g.Go(func() error {
			verdict, err := a.callOne(ctx, p, tx, prompt)
			if err != nil {
				// Partial failure is tolerated; the slot stays nil.
				a.logger.Debug("provider excluded from consensus", "provider", p.Name(), "error", err)
				return nil
			}
			verdicts[i] = verdict
			return nil
		})
	}
	_ = g.Wait() // every call settles; errors never propagate

	// Survivors keep first-seen (priority) order.
	var survivors []*provider.Verdict
	for _, v := range verdicts {
		if v != nil {
			survivors = append(survivors, v)
		}
	}
	if len(survivors) == 0 {
		consensusRuns.WithLabelValues("parallel", "no_valid_analysis").Inc()
		return nil, ErrNoValidAnalysis
	}

	consensusRuns.WithLabelValues("parallel", "ok").Inc()
	return a.aggregate(survivors), nil
}

// callOne consults the circuit breaker and rate limiter, then invokes the
// provider under the per-call timeout. Cancelling the parent context aborts
// the call.
func (a *Aggregator) callOne(ctx context.Context, p provider.Adapter, tx *risk.TransactionRecord, prompt string) (*provider.Verdict, error) {
	name := p.Name()
	if a.breaker != nil && !a.breaker.Allow(name) {
		return nil, provider.NewError(name, provider.ErrUnavailable, "circuit open")
	}
	if a.limiter != nil && !a.limiter.Allow(name) {
		return nil, provider.NewError(name, provider.ErrRateLimited, "window budget exhausted")
	}

	ctx, span := traces.StartSpan(ctx, "consensus.provider_call", traces.Provider(name))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	verdict, err := p.Analyze(callCtx, tx, prompt)
	if a.breaker != nil {
		if err != nil {
			a.breaker.RecordFailure(name)
		} else {
			a.breaker.RecordSuccess(name)
		}
	}
	return verdict, err
}

// aggregate merges survivor verdicts: risk is the confidence-weighted mean,
// pattern tags vote by confidence weight with plurality winning and ties
// broken by first-seen order.
func (a *Aggregator) aggregate(verdicts []*provider.Verdict) *Result {
	var totalWeight, weightedRisk, confidenceSum float64
	tagWeight := make(map[string]float64)
	var tagOrder []string
	providers := make([]string, 0, len(verdicts))

	for _, v := range verdicts {
		weight := v.Confidence
		totalWeight += weight
		weightedRisk += v.RiskScore * weight
		confidenceSum += v.Confidence
		providers = append(providers, v.Provider)

		if v.Pattern != "" {
			if _, seen := tagWeight[v.Pattern]; !seen {
				tagOrder = append(tagOrder, v.Pattern)
			}
			tagWeight[v.Pattern] += weight
		}
	}

	result := &Result{
		Confidence: confidenceSum / float64(len(verdicts)),
		Providers:  providers,
	}
	if totalWeight > 0 {
		result.RiskScore = weightedRisk / totalWeight
	}

	var winningWeight float64
	for _, tag := range tagOrder {
		if tagWeight[tag] > winningWeight {
			winningWeight = tagWeight[tag]
			result.WinningPattern = tag
		}
	}

	switch {
	case totalWeight == 0 || len(tagOrder) == 0:
		// Nobody voted for a pattern: trivially unanimous.
		result.AgreementShare = 1
	default:
		result.AgreementShare = winningWeight / totalWeight
	}
	result.Agreement = result.AgreementShare >= a.threshold
	return result
}
