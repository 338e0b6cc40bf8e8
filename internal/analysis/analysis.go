// Package analysis runs the end-to-end risk pipeline for one transaction:
// deterministic base scoring, AI provider consensus, score integration,
// threat classification, and the containment decision.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeges-net/aeges/internal/consensus"
	"github.com/aeges-net/aeges/internal/containment"
	"github.com/aeges-net/aeges/internal/events"
	"github.com/aeges-net/aeges/internal/idgen"
	"github.com/aeges-net/aeges/internal/logging"
	"github.com/aeges-net/aeges/internal/metrics"
	"github.com/aeges-net/aeges/internal/provider"
	"github.com/aeges-net/aeges/internal/risk"
	"github.com/aeges-net/aeges/internal/syncutil"
	"github.com/aeges-net/aeges/internal/traces"
	"github.com/aeges-net/aeges/internal/validation"
)

// Mode selects how provider consensus is gathered.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

var analysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aeges",
	Name:      "analyses_total",
	Help:      "Completed transaction analyses by threat level and action.",
}, []string{"threat_level", "action"})

func init() {
	prometheus.MustRegister(analysesTotal)
}

// Service is the analysis pipeline.
type Service struct {
	engine       *risk.Engine
	store        risk.Store
	aggregator   *consensus.Aggregator
	providers    []provider.Adapter
	containments *containment.Service
	bus          *events.Bus
	mode         Mode
	quorum       int
	strict       bool
	protocol     containment.Protocol
	locks        *syncutil.ContextShardedMutex
}

// Options configures the pipeline beyond its collaborators.
type Options struct {
	Mode              Mode
	Quorum            int  // providers consulted in parallel mode
	StrictAgreement   bool // fail analyses whose providers disagree
	RequiredApprovals int  // recovery protocol attached to containments
	RecoveryDeadline  time.Duration
}

// NewService creates the analysis pipeline service.
func NewService(
	engine *risk.Engine,
	store risk.Store,
	aggregator *consensus.Aggregator,
	providers []provider.Adapter,
	containments *containment.Service,
	bus *events.Bus,
	opts Options,
) *Service {
	if opts.Mode == "" {
		opts.Mode = ModeParallel
	}
	if opts.Quorum <= 0 {
		opts.Quorum = len(providers)
	}
	return &Service{
		engine:       engine,
		store:        store,
		aggregator:   aggregator,
		providers:    providers,
		containments: containments,
		bus:          bus,
		mode:         opts.Mode,
		quorum:       opts.Quorum,
		strict:       opts.StrictAgreement,
		protocol: containment.Protocol{
			RequiredApprovals: opts.RequiredApprovals,
			Deadline:          opts.RecoveryDeadline,
		},
		locks: syncutil.NewContextShardedMutex(),
	}
}

// Analyze runs the full pipeline for one transaction. A transaction already
// analyzed returns its existing assessment; created reports whether this call
// produced a new one.
func (s *Service) Analyze(ctx context.Context, tx *risk.TransactionRecord) (assessment *risk.RiskAssessment, created bool, err error) {
	defer func(start time.Time) {
		metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	validation.SanitizeTransaction(tx)
	if err := validation.ValidateTransaction(tx); err != nil {
		return nil, false, &Error{Kind: KindValidation, Message: err.Error()}
	}

	ctx, span := traces.StartSpan(ctx, "analysis.analyze", traces.TransactionID(tx.ID))
	defer span.End()

	// Serializes concurrent submits of the same transaction; a caller whose
	// context ends while waiting gives up instead of queueing.
	unlock, err := s.locks.LockContext(ctx, tx.ID)
	if err != nil {
		return nil, false, &Error{Kind: KindInternal, Message: "analysis canceled"}
	}
	defer unlock()

	if existing, err := s.store.GetByTransaction(ctx, tx.ID); err == nil {
		return existing, false, nil
	}

	base := s.engine.ComputeBaseRisk(tx)
	patterns := s.engine.DetectPatterns(tx)

	res := s.runConsensus(ctx, tx)
	if s.strict && res != nil && !res.Agreement {
		return nil, false, &Error{
			Kind:    KindLowAgreement,
			Message: fmt.Sprintf("provider agreement %.2f below threshold", res.AgreementShare),
		}
	}

	score := base
	agreement := false
	var providerNames []string
	if res != nil {
		score = s.engine.IntegrateConsensus(base, res.RiskScore, res.Confidence)
		agreement = res.Agreement
		providerNames = res.Providers
		if res.WinningPattern != "" && !contains(patterns, res.WinningPattern) {
			patterns = append(patterns, res.WinningPattern)
		}
	}

	level := s.engine.ClassifyThreatLevel(score)
	action := s.engine.DecideAction(level)
	span.SetAttributes(traces.ThreatLevel(string(level)))

	assessment = &risk.RiskAssessment{
		ID:            idgen.New(idgen.PrefixAnalysis),
		TransactionID: tx.ID,
		ThreatLevel:   level,
		Score:         score,
		BaseScore:     base,
		Patterns:      patterns,
		Providers:     providerNames,
		Agreement:     agreement,
		Action:        action,
		CreatedAt:     time.Now(),
	}

	if action == risk.ActionContain && s.containments != nil {
		c, err := s.containments.Contain(ctx, assessment, tx, s.protocol)
		if err != nil {
			return nil, false, &Error{Kind: KindInternal, Message: "failed to contain transaction"}
		}
		assessment.ContainmentID = c.ID
	}

	if err := s.store.Record(ctx, assessment); err != nil {
		return nil, false, &Error{Kind: KindInternal, Message: "failed to record assessment"}
	}

	analysesTotal.WithLabelValues(string(level), string(action)).Inc()
	s.publish(assessment)

	logging.L(ctx).Info("analysis completed",
		"analysis_id", assessment.ID,
		"transaction_id", tx.ID,
		"threat_level", level,
		"score", fmt.Sprintf("%.3f", score),
		"base_score", fmt.Sprintf("%.3f", base),
		"action", action,
		"providers", providerNames,
	)
	return assessment, true, nil
}

// Get returns an assessment by analysis id.
func (s *Service) Get(ctx context.Context, id string) (*risk.RiskAssessment, error) {
	return s.store.Get(ctx, id)
}

// GetByTransaction returns the assessment for a transaction.
func (s *Service) GetByTransaction(ctx context.Context, txID string) (*risk.RiskAssessment, error) {
	return s.store.GetByTransaction(ctx, txID)
}

// ListRecent returns the most recent assessments.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]*risk.RiskAssessment, error) {
	return s.store.ListRecent(ctx, limit)
}

// runConsensus gathers the provider verdict. A nil result means no provider
// produced a usable verdict; the pipeline degrades to the base score alone.
func (s *Service) runConsensus(ctx context.Context, tx *risk.TransactionRecord) *consensus.Result {
	prompt := provider.BuildPrompt(tx)

	var (
		res *consensus.Result
		err error
	)
	switch s.mode {
	case ModeSequential:
		res, err = s.aggregator.Sequential(ctx, tx, prompt, s.providers)
	default:
		res, err = s.aggregator.Parallel(ctx, tx, prompt, s.providers, s.quorum)
	}
	if err != nil {
		if errors.Is(err, consensus.ErrAllProvidersUnavailable) || errors.Is(err, consensus.ErrNoValidAnalysis) {
			logging.L(ctx).Warn("no provider verdict, using base score only",
				"transaction_id", tx.ID, "error", err)
			return nil
		}
		logging.L(ctx).Warn("consensus failed, using base score only",
			"transaction_id", tx.ID, "error", err)
		return nil
	}
	return res
}

func (s *Service) publish(a *risk.RiskAssessment) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Kind: events.KindAnalysisCompleted,
		Payload: map[string]any{
			"analysis_id":    a.ID,
			"transaction_id": a.TransactionID,
			"threat_level":   string(a.ThreatLevel),
			"score":          a.Score,
			"action":         string(a.Action),
			"containment_id": a.ContainmentID,
		},
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
