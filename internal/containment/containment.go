// Package containment manages the quarantine lifecycle of assets flagged by
// the risk pipeline.
//
// Lifecycle:
//  1. A contain decision creates a Containment → status ACTIVE, economic
//     state derived from severity (frozen / quarantined / neutralized)
//  2. A recovery claim moves it to RECOVERY_PENDING
//  3. Verified, approved recovery → RECOVERED (economic state restored)
//  4. Rejection reverts to ACTIVE; deadline breach or stale ACTIVE → EXPIRED
//
// RECOVERED and EXPIRED are terminal. All transitions on one containment id
// are serialized through a per-entity lock and every transition emits an
// event; network propagation is asynchronous and best-effort.
package containment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aeges-net/aeges/internal/events"
	"github.com/aeges-net/aeges/internal/idgen"
	"github.com/aeges-net/aeges/internal/logging"
	"github.com/aeges-net/aeges/internal/metrics"
	"github.com/aeges-net/aeges/internal/risk"
	"github.com/aeges-net/aeges/internal/syncutil"
)

var (
	ErrContainmentNotFound = errors.New("containment not found")
	ErrInvalidTransition   = errors.New("invalid containment transition")
	ErrAlreadyResolved     = errors.New("containment already in a terminal state")
)

// Status is the lifecycle state of a containment.
type Status string

const (
	StatusActive          Status = "active"
	StatusRecoveryPending Status = "recovery_pending"
	StatusRecovered       Status = "recovered"
	StatusExpired         Status = "expired"
)

// EconomicState classifies how hard the asset is locked while contained.
type EconomicState string

const (
	EconFrozen      EconomicState = "frozen"
	EconQuarantined EconomicState = "quarantined"
	EconNeutralized EconomicState = "neutralized"
	EconNormal      EconomicState = "normal" // after a completed recovery
)

// Protocol is the recovery contract attached at creation time.
type Protocol struct {
	RequiredApprovals int           `json:"requiredApprovals"`
	Deadline          time.Duration `json:"deadline"`
}

// Containment is the quarantine record for one flagged transaction.
// Mutated only by this package's Service; never shared mutably.
type Containment struct {
	ID            string           `json:"id"`
	AnalysisID    string           `json:"analysisId"`
	TransactionID string           `json:"transactionId"`
	WalletAddress string           `json:"walletAddress"`
	Severity      risk.ThreatLevel `json:"severity"`
	EconomicState EconomicState    `json:"economicState"`
	Status        Status           `json:"status"`
	Amount        float64          `json:"amount"`
	RestoredValue float64          `json:"restoredValue,omitempty"`
	Protocol      Protocol         `json:"protocol"`
	PropagatedAt  *time.Time       `json:"propagatedAt,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	ExpiresAt     time.Time        `json:"expiresAt"`
	ResolvedAt    *time.Time       `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true once the containment can never change again.
func (c *Containment) IsTerminal() bool {
	return c.Status == StatusRecovered || c.Status == StatusExpired
}

// Store persists containments.
type Store interface {
	Create(ctx context.Context, c *Containment) error
	Get(ctx context.Context, id string) (*Containment, error)
	GetByTransaction(ctx context.Context, txID string) (*Containment, error)
	ListByWallet(ctx context.Context, wallet string, limit int) ([]*Containment, error)
	Update(ctx context.Context, c *Containment) error
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Containment, error)
}

// Propagator pushes containment notices to the wider network.
// Calls are fire-and-forget relative to the decision path.
type Propagator interface {
	Propagate(ctx context.Context, c *Containment) error
}

// Service owns every containment transition.
type Service struct {
	store      Store
	bus        *events.Bus
	propagator Propagator
	maxAge     time.Duration
	locks      syncutil.ShardedMutex
}

// NewService creates the containment service.
func NewService(store Store, bus *events.Bus, maxAge time.Duration) *Service {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Service{
		store:  store,
		bus:    bus,
		maxAge: maxAge,
	}
}

// WithPropagator attaches a network propagator.
func (s *Service) WithPropagator(p Propagator) *Service {
	s.propagator = p
	return s
}

// economicStateFor maps severity onto the initial economic state.
func economicStateFor(severity risk.ThreatLevel) EconomicState {
	switch severity {
	case risk.ThreatCritical:
		return EconNeutralized
	case risk.ThreatHigh, risk.ThreatMedium:
		return EconQuarantined
	default:
		return EconFrozen
	}
}

// Contain creates an ACTIVE containment for the assessed transaction.
// At most one live containment exists per transaction: a duplicate contain
// decision returns the existing record.
func (s *Service) Contain(ctx context.Context, assessment *risk.RiskAssessment, tx *risk.TransactionRecord, proto Protocol) (*Containment, error) {
	unlock := s.locks.Lock(tx.ID)
	defer unlock()

	if existing, err := s.store.GetByTransaction(ctx, tx.ID); err == nil && !existing.IsTerminal() {
		return existing, nil
	}

	now := time.Now()
	c := &Containment{
		ID:            idgen.New(idgen.PrefixContainment),
		AnalysisID:    assessment.ID,
		TransactionID: tx.ID,
		WalletAddress: tx.Origin,
		Severity:      assessment.ThreatLevel,
		EconomicState: economicStateFor(assessment.ThreatLevel),
		Status:        StatusActive,
		Amount:        tx.Amount,
		Protocol:      proto,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.maxAge),
	}

	if err := s.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create containment: %w", err)
	}

	metrics.ContainmentsActive.Inc()
	s.publish(events.KindContainmentCreated, c, map[string]any{
		"severity":       string(c.Severity),
		"economic_state": string(c.EconomicState),
	})
	s.propagateAsync(c)

	logging.L(ctx).Info("containment created",
		"containment_id", c.ID,
		"transaction_id", c.TransactionID,
		"severity", c.Severity,
		"economic_state", c.EconomicState,
	)
	return c, nil
}

// MarkRecoveryPending transitions ACTIVE → RECOVERY_PENDING when a recovery
// claim is filed.
func (s *Service) MarkRecoveryPending(ctx context.Context, id string) (*Containment, error) {
	return s.transition(ctx, id, events.KindRecoveryInitiated, nil, func(c *Containment) error {
		if c.Status != StatusActive {
			return transitionErr(c.Status, StatusRecoveryPending)
		}
		c.Status = StatusRecoveryPending
		return nil
	})
}

// CompleteRecovery transitions RECOVERY_PENDING → RECOVERED, restoring the
// economic state and recording the restored value.
func (s *Service) CompleteRecovery(ctx context.Context, id string, restoredValue float64) (*Containment, error) {
	return s.transition(ctx, id, events.KindRecoveryCompleted, map[string]any{
		"restored_value": restoredValue,
	}, func(c *Containment) error {
		if c.Status != StatusRecoveryPending {
			return transitionErr(c.Status, StatusRecovered)
		}
		now := time.Now()
		c.Status = StatusRecovered
		c.EconomicState = EconNormal
		c.RestoredValue = restoredValue
		c.ResolvedAt = &now
		return nil
	})
}

// RevertToActive transitions RECOVERY_PENDING → ACTIVE after a rejected
/// recovery claim. The economic state is untouched: de-escalation happens
// only through a completed recovery.
func (s *Service) RevertToActive(ctx context.Context, id string) (*Containment, error) {
	return s.transition(ctx, id, events.KindRecoveryRejected, nil, func(c *Containment) error {
		if c.Status != StatusRecoveryPending {
			return transitionErr(c.Status, StatusActive)
		}
		c.Status = StatusActive
		return nil
	})
}

// Expire transitions ACTIVE or RECOVERY_PENDING → EXPIRED.
func (s *Service) Expire(ctx context.Context, id string) (*Containment, error) {
	return s.transition(ctx, id, events.KindContainmentExpired, nil, func(c *Containment) error {
		if c.Status != StatusActive && c.Status != StatusRecoveryPending {
			return transitionErr(c.Status, StatusExpired)
		}
		now := time.Now()
		c.Status = StatusExpired
		c.ResolvedAt = &now
		return nil
	})
}

// Get returns the containment by id.
func (s *Service) Get(ctx context.Context, id string) (*Containment, error) {
	return s.store.Get(ctx, id)
}

// GetByTransaction returns the containment for a transaction.
func (s *Service) GetByTransaction(ctx context.Context, txID string) (*Containment, error) {
	return s.store.GetByTransaction(ctx, txID)
}

// ListByWallet returns containments associated with a wallet address.
func (s *Service) ListByWallet(ctx context.Context, wallet string, limit int) ([]*Containment, error) {
	return s.store.ListByWallet(ctx, wallet, limit)
}

// transition applies a guarded mutation under the per-entity lock and emits
// the event on success. The entity is left unchanged on failure.
func (s *Service) transition(ctx context.Context, id string, kind events.Kind, extra map[string]any, apply func(*Containment) error) (*Containment, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	from := c.Status
	if err := apply(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to persist containment transition: %w", err)
	}
	if c.IsTerminal() {
		metrics.ContainmentsActive.Dec()
	}

	payload := map[string]any{
		"from_status": string(from),
		"to_status":   string(c.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.publish(kind, c, payload)

	logging.L(ctx).Info("containment transition",
		"containment_id", c.ID, "from", from, "to", c.Status)
	return c, nil
}

func (s *Service) publish(kind events.Kind, c *Containment, extra map[string]any) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{
		"containment_id": c.ID,
		"transaction_id": c.TransactionID,
		"status":         string(c.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.bus.Publish(events.Event{Kind: kind, Payload: payload})
}

// propagateAsync dispatches network propagation without blocking the
// decision path. Failures are logged, never surfaced.
func (s *Service) propagateAsync(c *Containment) {
	if s.propagator == nil {
		return
	}
	snapshot := *c
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.propagator.Propagate(ctx, &snapshot); err != nil {
			logging.L(ctx).Warn("containment propagation failed",
				"containment_id", snapshot.ID, "error", err)
			return
		}
		// Re-read under the entity lock so a transition that happened during
		// propagation is not clobbered.
		now := time.Now()
		unlock := s.locks.Lock(snapshot.ID)
		if current, err := s.store.Get(ctx, snapshot.ID); err == nil {
			current.PropagatedAt = &now
			_ = s.store.Update(ctx, current)
		}
		unlock()
		if s.bus != nil {
			s.bus.Publish(events.Event{
				Kind: events.KindPropagationDispatched,
				Payload: map[string]any{
					"containment_id": snapshot.ID,
				},
			})
		}
	}()
}

func transitionErr(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
