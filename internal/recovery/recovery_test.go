package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aeges-net/aeges/internal/containment"
	"github.com/aeges-net/aeges/internal/idgen"
	"github.com/aeges-net/aeges/internal/risk"
)

type fixture struct {
	recoveries   *Service
	containments *containment.Service
	store        *MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cs := containment.NewService(containment.NewMemoryStore(), nil, 7*24*time.Hour)
	store := NewMemoryStore()
	return &fixture{
		recoveries:   NewService(store, cs, nil, 2, 72*time.Hour),
		containments: cs,
		store:        store,
	}
}

// contain creates an active containment to file claims against.
func (f *fixture) contain(t *testing.T, txID string, proto containment.Protocol) *containment.Containment {
	t.Helper()
	assessment := &risk.RiskAssessment{
		ID:          idgen.New(idgen.PrefixAnalysis),
		ThreatLevel: risk.ThreatHigh,
		Score:       0.75,
		Action:      risk.ActionContain,
		CreatedAt:   time.Now(),
	}
	tx := &risk.TransactionRecord{
		ID:        txID,
		Amount:    50000,
		Timestamp: time.Now(),
		Origin:    "0xorigin",
		AssetType: "token",
	}
	c, err := f.containments.Contain(context.Background(), assessment, tx, proto)
	if err != nil {
		t.Fatalf("Contain failed: %v", err)
	}
	return c
}

func completeAllChecks(t *testing.T, svc *Service, id string) {
	t.Helper()
	for _, check := range Checks {
		if _, err := svc.UpdateCheck(context.Background(), id, check, CheckCompleted); err != nil {
			t.Fatalf("UpdateCheck(%s) failed: %v", check, err)
		}
	}
}

func TestInitiateFlipsContainment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-init", containment.Protocol{})

	req, err := f.recoveries.Initiate(ctx, c.ID, "alice", map[string]string{"receipt": "r-100"})
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if req.Status != StatusPending {
		t.Errorf("status = %s, want %s", req.Status, StatusPending)
	}
	for _, check := range Checks {
		if req.Checks[check] != CheckPending {
			t.Errorf("check %s = %s, want pending", check, req.Checks[check])
		}
	}
	if !req.Deadline.After(time.Now()) {
		t.Error("deadline should be in the future")
	}

	got, err := f.containments.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get containment failed: %v", err)
	}
	if got.Status != containment.StatusRecoveryPending {
		t.Errorf("containment status = %s, want recovery_pending", got.Status)
	}
}

func TestInitiateRequiresActiveContainment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-not-active", containment.Protocol{})

	if _, err := f.recoveries.Initiate(ctx, c.ID, "alice", nil); err != nil {
		t.Fatalf("first Initiate failed: %v", err)
	}
	// Containment is now RECOVERY_PENDING; a second claim is refused.
	if _, err := f.recoveries.Initiate(ctx, c.ID, "bob", nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Initiate: got %v, want ErrInvalidState", err)
	}

	if _, err := f.recoveries.Initiate(ctx, "CONT_0_missing", "alice", nil); !errors.Is(err, containment.ErrContainmentNotFound) {
		t.Errorf("Initiate on missing containment: got %v, want ErrContainmentNotFound", err)
	}
}

func TestProtocolOverridesDefaults(t *testing.T) {
	f := newFixture(t)
	c := f.contain(t, "tx-proto", containment.Protocol{RequiredApprovals: 5, Deadline: time.Hour})

	req, err := f.recoveries.Initiate(context.Background(), c.ID, "alice", nil)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if req.RequiredApprovals != 5 {
		t.Errorf("required approvals = %d, want 5 from the containment protocol", req.RequiredApprovals)
	}
	if req.Deadline.After(time.Now().Add(2 * time.Hour)) {
		t.Error("deadline should honor the one hour protocol window")
	}
}

func TestFailedCheckRejectsAndReverts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-fail", containment.Protocol{})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)

	rejected, err := f.recoveries.UpdateCheck(ctx, req.ID, CheckOwnership, CheckFailed)
	if err != nil {
		t.Fatalf("UpdateCheck failed: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %s, want %s", rejected.Status, StatusRejected)
	}
	if rejected.ResolvedAt == nil {
		t.Error("ResolvedAt should be set on rejection")
	}

	got, _ := f.containments.Get(ctx, c.ID)
	if got.Status != containment.StatusActive {
		t.Errorf("containment status = %s, want active after rejection", got.Status)
	}
	// The lock holds until a recovery actually completes.
	if got.EconomicState != containment.EconQuarantined {
		t.Errorf("economic state = %s, want unchanged quarantined", got.EconomicState)
	}
}

func TestApprovalThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-thresh", containment.Protocol{})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)
	completeAllChecks(t, f.recoveries, req.ID)

	after, err := f.recoveries.Approve(ctx, req.ID, "stakeholder-1")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if after.Status != StatusPending {
		t.Errorf("one of two approvals: status = %s, want pending", after.Status)
	}

	done, err := f.recoveries.Approve(ctx, req.ID, "stakeholder-2")
	if err != nil {
		t.Fatalf("second Approve failed: %v", err)
	}
	if done.Status != StatusApproved {
		t.Errorf("status = %s, want approved", done.Status)
	}
	if done.RestoredValue != 50000 {
		t.Errorf("restored value = %f, want the contained amount", done.RestoredValue)
	}

	got, _ := f.containments.Get(ctx, c.ID)
	if got.Status != containment.StatusRecovered {
		t.Errorf("containment status = %s, want recovered", got.Status)
	}
	if got.EconomicState != containment.EconNormal {
		t.Errorf("economic state = %s, want normal", got.EconomicState)
	}
	if got.RestoredValue != 50000 {
		t.Errorf("containment restored value = %f, want 50000", got.RestoredValue)
	}
}

func TestApprovalIdempotentPerStakeholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-idem", containment.Protocol{})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)
	completeAllChecks(t, f.recoveries, req.ID)

	for i := 0; i < 3; i++ {
		after, err := f.recoveries.Approve(ctx, req.ID, "stakeholder-1")
		if err != nil {
			t.Fatalf("Approve %d failed: %v", i, err)
		}
		if len(after.Approvals) != 1 {
			t.Fatalf("approvals = %d after %d calls by one stakeholder, want 1", len(after.Approvals), i+1)
		}
		if after.Status != StatusPending {
			t.Fatalf("one distinct approval must not meet a threshold of two")
		}
	}
}

func TestApprovalsWithoutChecksStayPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-nochecks", containment.Protocol{})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)

	f.recoveries.Approve(ctx, req.ID, "stakeholder-1")
	after, err := f.recoveries.Approve(ctx, req.ID, "stakeholder-2")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if after.Status != StatusPending {
		t.Errorf("status = %s, want pending while checks are incomplete", after.Status)
	}

	// Finishing the checks afterwards finalizes the approval.
	completeAllChecks(t, f.recoveries, req.ID)
	got, _ := f.recoveries.Get(ctx, req.ID)
	if got.Status != StatusApproved {
		t.Errorf("status = %s, want approved once checks complete", got.Status)
	}
}

func TestApprovalAfterDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-late", containment.Protocol{Deadline: time.Millisecond})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)
	completeAllChecks(t, f.recoveries, req.ID)

	time.Sleep(5 * time.Millisecond)

	if _, err := f.recoveries.Approve(ctx, req.ID, "stakeholder-1"); !errors.Is(err, ErrExpiredConsensus) {
		t.Fatalf("late Approve: got %v, want ErrExpiredConsensus", err)
	}

	got, _ := f.recoveries.Get(ctx, req.ID)
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
	cont, _ := f.containments.Get(ctx, c.ID)
	if cont.Status != containment.StatusExpired {
		t.Errorf("containment status = %s, want expired", cont.Status)
	}
}

func TestLateCheckCompletionExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-late-check", containment.Protocol{RequiredApprovals: 1, Deadline: 50 * time.Millisecond})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)

	// Bank the approval inside the window; the checks lag past it.
	if _, err := f.recoveries.Approve(ctx, req.ID, "stakeholder-1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	f.recoveries.UpdateCheck(ctx, req.ID, CheckIdentity, CheckCompleted)
	f.recoveries.UpdateCheck(ctx, req.ID, CheckOwnership, CheckCompleted)
	if _, err := f.recoveries.UpdateCheck(ctx, req.ID, CheckLegitimacy, CheckCompleted); !errors.Is(err, ErrExpiredConsensus) {
		t.Fatalf("late final check: got %v, want ErrExpiredConsensus", err)
	}

	got, _ := f.recoveries.Get(ctx, req.ID)
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
	cont, _ := f.containments.Get(ctx, c.ID)
	if cont.Status != containment.StatusExpired {
		t.Errorf("containment status = %s, want expired", cont.Status)
	}
}

func TestFailedContainmentRecoveryKeepsRequestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-stuck", containment.Protocol{RequiredApprovals: 1})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)
	if _, err := f.recoveries.Approve(ctx, req.ID, "stakeholder-1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// Pull the containment out from under the request: the final check can
	// no longer complete the recovery, and the request must not read approved.
	if _, err := f.containments.Expire(ctx, c.ID); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}

	f.recoveries.UpdateCheck(ctx, req.ID, CheckIdentity, CheckCompleted)
	f.recoveries.UpdateCheck(ctx, req.ID, CheckOwnership, CheckCompleted)
	if _, err := f.recoveries.UpdateCheck(ctx, req.ID, CheckLegitimacy, CheckCompleted); err == nil {
		t.Fatal("expected the final check to surface the containment transition failure")
	}

	got, _ := f.recoveries.Get(ctx, req.ID)
	if got.Status != StatusPending {
		t.Errorf("status = %s, want pending when the containment cannot be recovered", got.Status)
	}
}

func TestUpdateCheckValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-validate", containment.Protocol{})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)

	if _, err := f.recoveries.UpdateCheck(ctx, req.ID, Check("solvency"), CheckCompleted); !errors.Is(err, ErrUnknownCheck) {
		t.Errorf("unknown check: got %v, want ErrUnknownCheck", err)
	}
	if _, err := f.recoveries.UpdateCheck(ctx, req.ID, CheckIdentity, CheckStatus("done")); !errors.Is(err, ErrBadCheckStatus) {
		t.Errorf("bad status: got %v, want ErrBadCheckStatus", err)
	}
}

func TestResolvedRequestRefusesUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-resolved", containment.Protocol{})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)

	if _, err := f.recoveries.UpdateCheck(ctx, req.ID, CheckIdentity, CheckFailed); err != nil {
		t.Fatalf("UpdateCheck failed: %v", err)
	}

	if _, err := f.recoveries.UpdateCheck(ctx, req.ID, CheckIdentity, CheckCompleted); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("UpdateCheck on rejected: got %v, want ErrAlreadyResolved", err)
	}
	if _, err := f.recoveries.Approve(ctx, req.ID, "stakeholder-1"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Approve on rejected: got %v, want ErrAlreadyResolved", err)
	}
}

func TestSweepOverdueExpiresRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contain(t, "tx-sweep", containment.Protocol{Deadline: time.Millisecond})
	req, _ := f.recoveries.Initiate(ctx, c.ID, "alice", nil)

	time.Sleep(5 * time.Millisecond)
	f.recoveries.SweepOverdue(ctx)

	got, err := f.recoveries.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired after sweep", got.Status)
	}
	cont, _ := f.containments.Get(ctx, c.ID)
	if cont.Status != containment.StatusExpired {
		t.Errorf("containment status = %s, want expired after sweep", cont.Status)
	}
}
