//go:build integration

package containment

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/aeges-net/aeges/internal/risk"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()

	// Mirrors migrations/00002_create_containments.sql
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS containments (
			id                     TEXT PRIMARY KEY,
			analysis_id            TEXT NOT NULL,
			transaction_id         TEXT NOT NULL,
			wallet_address         TEXT NOT NULL,
			severity               TEXT NOT NULL,
			economic_state         TEXT NOT NULL,
			status                 TEXT NOT NULL,
			amount                 DOUBLE PRECISION NOT NULL DEFAULT 0,
			restored_value         DOUBLE PRECISION NOT NULL DEFAULT 0,
			required_approvals     INTEGER NOT NULL DEFAULT 0,
			recovery_deadline_secs BIGINT NOT NULL DEFAULT 0,
			propagated_at          TIMESTAMPTZ,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at             TIMESTAMPTZ NOT NULL,
			resolved_at            TIMESTAMPTZ
		)`)
	if err != nil {
		t.Fatalf("Failed to create containments table: %v", err)
	}

	cleanup := func() {
		db.ExecContext(ctx, "DELETE FROM recovery_requests")
		db.ExecContext(ctx, "DELETE FROM containments")
		db.Close()
	}
	return NewPostgresStore(db), cleanup
}

func testContainment(id, txID string, now time.Time) *Containment {
	return &Containment{
		ID:            id,
		AnalysisID:    "AN_1_" + id,
		TransactionID: txID,
		WalletAddress: "0xwallet01",
		Severity:      risk.ThreatHigh,
		EconomicState: EconQuarantined,
		Status:        StatusActive,
		Amount:        50000,
		Protocol:      Protocol{RequiredApprovals: 2, Deadline: 72 * time.Hour},
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(7 * 24 * time.Hour),
	}
}

func TestPostgresContainment_CreateAndGet(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	c := testContainment("CONT_pg_create", "tx-pg-create", now)

	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Severity != risk.ThreatHigh {
		t.Errorf("Severity: got %s, want %s", got.Severity, risk.ThreatHigh)
	}
	if got.EconomicState != EconQuarantined {
		t.Errorf("EconomicState: got %s, want %s", got.EconomicState, EconQuarantined)
	}
	if got.Amount != 50000 {
		t.Errorf("Amount: got %f, want 50000", got.Amount)
	}
	// The protocol deadline is stored as whole seconds.
	if got.Protocol.RequiredApprovals != 2 || got.Protocol.Deadline != 72*time.Hour {
		t.Errorf("Protocol: got %+v", got.Protocol)
	}
	if got.PropagatedAt != nil || got.ResolvedAt != nil {
		t.Error("PropagatedAt and ResolvedAt should be nil on a fresh containment")
	}
}

func TestPostgresContainment_NotFound(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.Get(ctx, "CONT_missing"); err != ErrContainmentNotFound {
		t.Errorf("Get: expected ErrContainmentNotFound, got %v", err)
	}
	if err := store.Update(ctx, testContainment("CONT_missing", "tx-none", time.Now())); err != ErrContainmentNotFound {
		t.Errorf("Update: expected ErrContainmentNotFound, got %v", err)
	}
}

func TestPostgresContainment_Update(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	c := testContainment("CONT_pg_update", "tx-pg-update", now)
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resolved := now.Add(time.Hour).Truncate(time.Microsecond)
	c.Status = StatusRecovered
	c.EconomicState = EconNormal
	c.RestoredValue = 50000
	c.UpdatedAt = resolved
	c.ResolvedAt = &resolved
	if err := store.Update(ctx, c); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get after update failed: %v", err)
	}
	if got.Status != StatusRecovered {
		t.Errorf("Status: got %s, want %s", got.Status, StatusRecovered)
	}
	if got.EconomicState != EconNormal {
		t.Errorf("EconomicState: got %s, want %s", got.EconomicState, EconNormal)
	}
	if got.RestoredValue != 50000 {
		t.Errorf("RestoredValue: got %f, want 50000", got.RestoredValue)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt should be set after update")
	}
}

func TestPostgresContainment_GetByTransactionReturnsNewest(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	older := testContainment("CONT_pg_tx_old", "tx-pg-shared", now)
	older.Status = StatusExpired
	newer := testContainment("CONT_pg_tx_new", "tx-pg-shared", now.Add(time.Second))
	for _, c := range []*Containment{older, newer} {
		if err := store.Create(ctx, c); err != nil {
			t.Fatalf("Create %s failed: %v", c.ID, err)
		}
	}

	got, err := store.GetByTransaction(ctx, "tx-pg-shared")
	if err != nil {
		t.Fatalf("GetByTransaction failed: %v", err)
	}
	if got.ID != "CONT_pg_tx_new" {
		t.Errorf("Expected the newest containment, got %s", got.ID)
	}
}

func TestPostgresContainment_ListByWallet(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	for i, id := range []string{"CONT_pg_w_a", "CONT_pg_w_b", "CONT_pg_w_c"} {
		c := testContainment(id, "tx-pg-wallet-"+id, now.Add(time.Duration(i)*time.Second))
		if err := store.Create(ctx, c); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	results, err := store.ListByWallet(ctx, "0xwallet01", 2)
	if err != nil {
		t.Fatalf("ListByWallet failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results with limit, got %d", len(results))
	}
	if results[0].ID != "CONT_pg_w_c" {
		t.Errorf("Expected newest first, got %s", results[0].ID)
	}
}

func TestPostgresContainment_ListExpired(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	overdue := testContainment("CONT_pg_exp_a", "tx-pg-exp-a", now)
	overdue.ExpiresAt = now.Add(-time.Minute)
	resolved := testContainment("CONT_pg_exp_b", "tx-pg-exp-b", now)
	resolved.ExpiresAt = now.Add(-time.Minute)
	resolved.Status = StatusRecovered
	fresh := testContainment("CONT_pg_exp_c", "tx-pg-exp-c", now)
	for _, c := range []*Containment{overdue, resolved, fresh} {
		if err := store.Create(ctx, c); err != nil {
			t.Fatalf("Create %s failed: %v", c.ID, err)
		}
	}

	results, err := store.ListExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpired failed: %v", err)
	}
	// Terminal and not-yet-expired containments stay out of the sweep.
	if len(results) != 1 {
		t.Fatalf("Expected 1 expired containment, got %d", len(results))
	}
	if results[0].ID != "CONT_pg_exp_a" {
		t.Errorf("Expected CONT_pg_exp_a, got %s", results[0].ID)
	}
}
