// Package recovery manages claims against active containments: verification
// checks, stakeholder approvals, and the deadline that bounds both.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aeges-net/aeges/internal/containment"
	"github.com/aeges-net/aeges/internal/events"
	"github.com/aeges-net/aeges/internal/idgen"
	"github.com/aeges-net/aeges/internal/logging"
	"github.com/aeges-net/aeges/internal/metrics"
	"github.com/aeges-net/aeges/internal/syncutil"
)

var (
	ErrRecoveryNotFound = errors.New("recovery request not found")
	ErrInvalidState     = errors.New("containment is not active")
	ErrExpiredConsensus = errors.New("approval received after the recovery deadline")
	ErrAlreadyResolved  = errors.New("recovery request already resolved")
	ErrUnknownCheck     = errors.New("unknown verification check")
	ErrBadCheckStatus   = errors.New("invalid verification check status")
)

// Check names the three verification tracks. All three must complete before a
// request can be approved.
type Check string

const (
	CheckIdentity   Check = "identity"
	CheckOwnership  Check = "ownership"
	CheckLegitimacy Check = "legitimacy"
)

// Checks lists every verification track in canonical order.
var Checks = []Check{CheckIdentity, CheckOwnership, CheckLegitimacy}

// CheckStatus is the progress of one verification track.
type CheckStatus string

const (
	CheckPending    CheckStatus = "pending"
	CheckInProgress CheckStatus = "in_progress"
	CheckCompleted  CheckStatus = "completed"
	CheckFailed     CheckStatus = "failed"
)

func validCheckStatus(s CheckStatus) bool {
	switch s {
	case CheckPending, CheckInProgress, CheckCompleted, CheckFailed:
		return true
	}
	return false
}

// Status is the lifecycle state of a recovery request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Request is one claim against a contained transaction.
type Request struct {
	ID                string                `json:"id"`
	ContainmentID     string                `json:"containmentId"`
	Claimant          string                `json:"claimant"`
	Evidence          map[string]string     `json:"evidence,omitempty"`
	Checks            map[Check]CheckStatus `json:"checks"`
	Approvals         []string              `json:"approvals"`
	RequiredApprovals int                   `json:"requiredApprovals"`
	Status            Status                `json:"status"`
	RestoredValue     float64               `json:"restoredValue,omitempty"`
	Deadline          time.Time             `json:"deadline"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
	ResolvedAt        *time.Time            `json:"resolvedAt,omitempty"`
}

// IsTerminal returns true once the request can never change again.
func (r *Request) IsTerminal() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected || r.Status == StatusExpired
}

func (r *Request) checksCompleted() bool {
	for _, c := range Checks {
		if r.Checks[c] != CheckCompleted {
			return false
		}
	}
	return true
}

func (r *Request) hasApproval(stakeholder string) bool {
	for _, s := range r.Approvals {
		if s == stakeholder {
			return true
		}
	}
	return false
}

// Store persists recovery requests.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	GetByContainment(ctx context.Context, containmentID string) (*Request, error)
	Update(ctx context.Context, r *Request) error
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]*Request, error)
}

// Service owns every recovery request transition. Containment transitions
// triggered here go through the containment service so its invariants and
// events hold.
type Service struct {
	store             Store
	containments      *containment.Service
	bus               *events.Bus
	requiredApprovals int
	deadline          time.Duration
	locks             syncutil.ShardedMutex
}

// NewService creates the recovery service. requiredApprovals and deadline are
// defaults, overridden per request by the containment's recovery protocol.
func NewService(store Store, containments *containment.Service, bus *events.Bus, requiredApprovals int, deadline time.Duration) *Service {
	if requiredApprovals <= 0 {
		requiredApprovals = 2
	}
	if deadline <= 0 {
		deadline = 72 * time.Hour
	}
	return &Service{
		store:             store,
		containments:      containments,
		bus:               bus,
		requiredApprovals: requiredApprovals,
		deadline:          deadline,
	}
}

// Initiate files a recovery claim against an active containment. The
// containment moves to RECOVERY_PENDING; a claim against anything but an
// ACTIVE containment fails.
func (s *Service) Initiate(ctx context.Context, containmentID, claimant string, evidence map[string]string) (*Request, error) {
	c, err := s.containments.Get(ctx, containmentID)
	if err != nil {
		return nil, err
	}
	if c.Status != containment.StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, c.Status)
	}

	required := s.requiredApprovals
	if c.Protocol.RequiredApprovals > 0 {
		required = c.Protocol.RequiredApprovals
	}
	window := s.deadline
	if c.Protocol.Deadline > 0 {
		window = c.Protocol.Deadline
	}

	now := time.Now()
	req := &Request{
		ID:                idgen.New(idgen.PrefixRecovery),
		ContainmentID:     containmentID,
		Claimant:          claimant,
		Evidence:          evidence,
		Checks:            map[Check]CheckStatus{CheckIdentity: CheckPending, CheckOwnership: CheckPending, CheckLegitimacy: CheckPending},
		Approvals:         []string{},
		RequiredApprovals: required,
		Status:            StatusPending,
		Deadline:          now.Add(window),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Flip the containment first: it is the authority on whether a claim may
	// be filed. A concurrent Initiate on the same containment loses here.
	if _, err := s.containments.MarkRecoveryPending(ctx, containmentID); err != nil {
		if errors.Is(err, containment.ErrInvalidTransition) || errors.Is(err, containment.ErrAlreadyResolved) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidState, c.Status)
		}
		return nil, err
	}

	if err := s.store.Create(ctx, req); err != nil {
		// Best effort: put the containment back so another claim can be filed.
		if _, revertErr := s.containments.RevertToActive(ctx, containmentID); revertErr != nil {
			logging.L(ctx).Error("failed to revert containment after create failure",
				"containment_id", containmentID, "error", revertErr)
		}
		return nil, fmt.Errorf("failed to create recovery request: %w", err)
	}

	logging.L(ctx).Info("recovery initiated",
		"recovery_id", req.ID,
		"containment_id", containmentID,
		"claimant", claimant,
		"required_approvals", required,
	)
	return req, nil
}

// UpdateCheck moves one verification track forward. A failed check rejects
// the whole request and reverts the containment to ACTIVE.
func (s *Service) UpdateCheck(ctx context.Context, id string, check Check, status CheckStatus) (*Request, error) {
	if !validCheckStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrBadCheckStatus, status)
	}
	known := false
	for _, c := range Checks {
		if c == check {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCheck, check)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	req.Checks[check] = status
	req.UpdatedAt = time.Now()

	if status == CheckFailed {
		return s.reject(ctx, req, fmt.Sprintf("verification check %s failed", check))
	}

	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist check update: %w", err)
	}
	s.publish(events.KindRecoveryCheckUpdated, req, map[string]any{
		"check":        string(check),
		"check_status": string(status),
	})

	return s.maybeApprove(ctx, req)
}

// Approve records one stakeholder's approval. Approvals are idempotent per
// stakeholder; an approval past the deadline expires the request instead.
func (s *Service) Approve(ctx context.Context, id, stakeholder string) (*Request, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	if time.Now().After(req.Deadline) {
		if _, err := s.expire(ctx, req); err != nil {
			return nil, err
		}
		return nil, ErrExpiredConsensus
	}

	if !req.hasApproval(stakeholder) {
		req.Approvals = append(req.Approvals, stakeholder)
		req.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, req); err != nil {
			return nil, fmt.Errorf("failed to persist approval: %w", err)
		}
		s.publish(events.KindRecoveryApproved, req, map[string]any{
			"stakeholder": stakeholder,
			"approvals":   len(req.Approvals),
			"required":    req.RequiredApprovals,
		})
	}

	return s.maybeApprove(ctx, req)
}

// Get returns the recovery request by id.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// GetByContainment returns the recovery request filed against a containment.
func (s *Service) GetByContainment(ctx context.Context, containmentID string) (*Request, error) {
	return s.store.GetByContainment(ctx, containmentID)
}

// SweepOverdue expires pending requests whose deadline has passed, and their
// containments with them. Called on the containment timer cadence.
func (s *Service) SweepOverdue(ctx context.Context) {
	overdue, err := s.store.ListOverdue(ctx, time.Now(), 100)
	if err != nil {
		logging.L(ctx).Warn("failed to list overdue recovery requests", "error", err)
		return
	}
	for _, req := range overdue {
		unlock := s.locks.Lock(req.ID)
		current, err := s.store.Get(ctx, req.ID)
		if err == nil && !current.IsTerminal() {
			if _, err := s.expire(ctx, current); err != nil {
				logging.L(ctx).Warn("failed to expire recovery request",
					"recovery_id", req.ID, "error", err)
			}
		}
		unlock()
	}
}

// maybeApprove finalizes the request once every check is completed and the
// approval threshold is met. Caller holds the entity lock.
func (s *Service) maybeApprove(ctx context.Context, req *Request) (*Request, error) {
	if !req.checksCompleted() || len(req.Approvals) < req.RequiredApprovals {
		return req, nil
	}

	// The last check may land after the deadline; a late completion expires
	// the request the same way a late approval does.
	if time.Now().After(req.Deadline) {
		if _, err := s.expire(ctx, req); err != nil {
			return nil, err
		}
		return nil, ErrExpiredConsensus
	}

	c, err := s.containments.Get(ctx, req.ContainmentID)
	if err != nil {
		return nil, err
	}
	restored := c.Amount

	// Recover the containment first. A failure here leaves the request
	// pending, never approved against a still-contained transaction.
	// Emits the recovery-completed event with the restored value.
	if _, err := s.containments.CompleteRecovery(ctx, req.ContainmentID, restored); err != nil {
		return nil, fmt.Errorf("failed to complete containment recovery: %w", err)
	}

	now := time.Now()
	req.Status = StatusApproved
	req.RestoredValue = restored
	req.ResolvedAt = &now
	req.UpdatedAt = now
	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	metrics.RecoveriesTotal.WithLabelValues("approved").Inc()
	logging.L(ctx).Info("recovery approved",
		"recovery_id", req.ID,
		"containment_id", req.ContainmentID,
		"restored_value", restored,
	)
	return req, nil
}

// reject resolves the request as rejected and reverts the containment to
// ACTIVE. Caller holds the entity lock.
func (s *Service) reject(ctx context.Context, req *Request, reason string) (*Request, error) {
	now := time.Now()
	req.Status = StatusRejected
	req.ResolvedAt = &now
	req.UpdatedAt = now
	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist rejection: %w", err)
	}

	if _, err := s.containments.RevertToActive(ctx, req.ContainmentID); err != nil {
		logging.L(ctx).Error("failed to revert containment after rejection",
			"recovery_id", req.ID, "containment_id", req.ContainmentID, "error", err)
	}

	metrics.RecoveriesTotal.WithLabelValues("rejected").Inc()
	logging.L(ctx).Info("recovery rejected",
		"recovery_id", req.ID, "containment_id", req.ContainmentID, "reason", reason)
	return req, nil
}

// expire resolves the request as expired and expires the containment with it.
// Caller holds the entity lock.
func (s *Service) expire(ctx context.Context, req *Request) (*Request, error) {
	now := time.Now()
	req.Status = StatusExpired
	req.ResolvedAt = &now
	req.UpdatedAt = now
	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to persist expiry: %w", err)
	}

	if _, err := s.containments.Expire(ctx, req.ContainmentID); err != nil {
		logging.L(ctx).Warn("failed to expire containment for overdue recovery",
			"recovery_id", req.ID, "containment_id", req.ContainmentID, "error", err)
	}

	metrics.RecoveriesTotal.WithLabelValues("expired").Inc()
	logging.L(ctx).Info("recovery expired",
		"recovery_id", req.ID, "containment_id", req.ContainmentID)
	return req, nil
}

func (s *Service) publish(kind events.Kind, req *Request, extra map[string]any) {
	if s.bus == nil {
		return
	}
	payload := map[string]any{
		"recovery_id":    req.ID,
		"containment_id": req.ContainmentID,
		"status":         string(req.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.bus.Publish(events.Event{Kind: kind, Payload: payload})
}
