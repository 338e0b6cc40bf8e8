package risk

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func tx(amount float64, ageDays, prevTx int) *TransactionRecord {
	return &TransactionRecord{
		ID:                   "tx_test",
		Amount:               amount,
		Timestamp:            time.Now(),
		Origin:               "acct_origin",
		Destination:          "acct_dest",
		AssetType:            "token",
		AccountAgeDays:       ageDays,
		PreviousTransactions: prevTx,
		PriorVolume:          float64(prevTx) * 100,
	}
}

func TestComputeBaseRiskBounds(t *testing.T) {
	engine := NewEngine()

	cases := []*TransactionRecord{
		tx(0, 0, 0),
		tx(1, 10000, 10000),
		tx(500, 365, 50),
		tx(9999, 3, 1),
		tx(50000, 0, 0),
		tx(2_100_000, 0, 0),
		tx(math.MaxFloat64, 0, 0),
	}
	for i, c := range cases {
		score := engine.ComputeBaseRisk(c)
		if score < 0.10 || score > 0.95 {
			t.Errorf("case %d: base risk %f outside [0.10, 0.95]", i, score)
		}
	}
}

func TestComputeBaseRiskOrdering(t *testing.T) {
	engine := NewEngine()

	// A large first transaction from a brand-new account must score higher
	// than a modest transaction from an established one.
	risky := engine.ComputeBaseRisk(tx(2_100_000, 0, 0))
	safe := engine.ComputeBaseRisk(tx(5_000, 180, 25))
	if risky <= safe {
		t.Errorf("risky=%f should exceed safe=%f", risky, safe)
	}
	if risky != 0.95 {
		t.Errorf("max-tier transaction should hit ceiling 0.95, got %f", risky)
	}
}

func TestClassifyThreatLevelBoundaries(t *testing.T) {
	engine := NewEngine()

	cases := []struct {
		score float64
		want  ThreatLevel
	}{
		{0.0, ThreatLow},
		{0.39, ThreatLow},
		{0.4, ThreatMedium},
		{0.59, ThreatMedium},
		{0.6, ThreatHigh},
		{0.79, ThreatHigh},
		{0.8, ThreatCritical},
		{1.0, ThreatCritical},
	}
	for _, c := range cases {
		if got := engine.ClassifyThreatLevel(c.score); got != c.want {
			t.Errorf("ClassifyThreatLevel(%f) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestClassifyThreatLevelMonotonic(t *testing.T) {
	engine := NewEngine()

	prev := -1
	for s := 0.0; s <= 1.0; s += 0.01 {
		rank := engine.ClassifyThreatLevel(s).Rank()
		if rank < 0 {
			t.Fatalf("classification not total at score %f", s)
		}
		if rank < prev {
			t.Fatalf("classification decreased at score %f", s)
		}
		prev = rank
	}
}

func TestDecideActionTotal(t *testing.T) {
	engine := NewEngine()

	want := map[ThreatLevel]Action{
		ThreatLow:      ActionAllow,
		ThreatMedium:   ActionMonitor,
		ThreatHigh:     ActionContain,
		ThreatCritical: ActionContain,
	}
	for level, action := range want {
		if got := engine.DecideAction(level); got != action {
			t.Errorf("DecideAction(%s) = %s, want %s", level, got, action)
		}
	}
}

func TestDecideActionPolicyOverride(t *testing.T) {
	engine := NewEngine().WithPolicy(ThreatMedium, ActionContain)
	if got := engine.DecideAction(ThreatMedium); got != ActionContain {
		t.Errorf("override ignored: got %s", got)
	}
}

func TestDetectPatterns(t *testing.T) {
	engine := NewEngine()

	cases := []struct {
		name string
		tx   *TransactionRecord
		want []string
	}{
		{
			name: "large first transaction from new account",
			tx:   tx(2_100_000, 0, 0),
			want: []string{PatternFirstTransaction, PatternLargeAmount, PatternNewAccount, PatternRoundAmount, PatternVeryLargeAmount},
		},
		{
			name: "established account, modest amount",
			tx:   tx(5_500, 180, 25),
			want: nil,
		},
		{
			name: "dormant account",
			tx:   tx(500, 400, 2),
			want: []string{PatternDormantAccount},
		},
		{
			name: "velocity spike on young account",
			tx: &TransactionRecord{
				Amount:               5_000,
				AccountAgeDays:       10,
				PreviousTransactions: 20,
				PriorVolume:          200, // avg 10, 10x = 100 << 5000
			},
			want: []string{PatternHighVelocity, PatternRoundAmount},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := engine.DetectPatterns(c.tx)
			if fmt.Sprint(got) != fmt.Sprint(c.want) {
				t.Errorf("DetectPatterns = %v, want %v", got, c.want)
			}
			// Deterministic across calls.
			if again := engine.DetectPatterns(c.tx); fmt.Sprint(again) != fmt.Sprint(got) {
				t.Errorf("DetectPatterns not deterministic: %v vs %v", got, again)
			}
		})
	}
}

func TestCheckVelocityAnomaly(t *testing.T) {
	engine := NewEngine()

	cases := []struct {
		name string
		tx   *TransactionRecord
		want bool
	}{
		{"no history", &TransactionRecord{Amount: 1000, AccountAgeDays: 1}, false},
		{"old account", &TransactionRecord{Amount: 100000, AccountAgeDays: 200, PreviousTransactions: 10, PriorVolume: 100}, false},
		{"just under multiple", &TransactionRecord{Amount: 100, AccountAgeDays: 5, PreviousTransactions: 10, PriorVolume: 100}, false},
		{"over multiple, young", &TransactionRecord{Amount: 101, AccountAgeDays: 5, PreviousTransactions: 10, PriorVolume: 100}, true},
	}
	for _, c := range cases {
		if got := engine.CheckVelocityAnomaly(c.tx); got != c.want {
			t.Errorf("%s: CheckVelocityAnomaly = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestIntegrateConsensus(t *testing.T) {
	engine := NewEngine()

	// Zero confidence: consensus contributes nothing.
	if got := engine.IntegrateConsensus(0.5, 1.0, 0); got != 0.5 {
		t.Errorf("zero-confidence blend = %f, want 0.5", got)
	}

	// Full confidence caps at maxAIWeight influence.
	got := engine.IntegrateConsensus(0.5, 1.0, 1.0)
	want := 0.5*0.6 + 1.0*0.4
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("full-confidence blend = %f, want %f", got, want)
	}

	// Result always within [0,1].
	if got := engine.IntegrateConsensus(0.95, 1.0, 1.0); got > 1.0 {
		t.Errorf("blend exceeded 1.0: %f", got)
	}
}

func TestCriticalScenario(t *testing.T) {
	// {amount: 2100000, account_age_days: 0, previous_transactions: 0}
	// with one provider at confidence 0.85, risk 0.9 must classify critical
	// and decide contain.
	engine := NewEngine()
	record := tx(2_100_000, 0, 0)

	base := engine.ComputeBaseRisk(record)
	final := engine.IntegrateConsensus(base, 0.9, 0.85)
	level := engine.ClassifyThreatLevel(final)

	if level != ThreatCritical {
		t.Errorf("threat level = %s (score %f), want critical", level, final)
	}
	if action := engine.DecideAction(level); action != ActionContain {
		t.Errorf("action = %s, want contain", action)
	}
}

func TestLowRiskScenario(t *testing.T) {
	// {amount: 5000, account_age_days: 180, previous_transactions: 25}
	// must classify low and decide allow.
	engine := NewEngine()
	record := tx(5_000, 180, 25)

	base := engine.ComputeBaseRisk(record)
	level := engine.ClassifyThreatLevel(base)

	if level != ThreatLow {
		t.Errorf("threat level = %s (score %f), want low", level, base)
	}
	if action := engine.DecideAction(level); action != ActionAllow {
		t.Errorf("action = %s, want allow", action)
	}
}
