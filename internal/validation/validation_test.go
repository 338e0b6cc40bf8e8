package validation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aeges-net/aeges/internal/risk"
)

func validTx() *risk.TransactionRecord {
	return &risk.TransactionRecord{
		ID:          "tx-1",
		Amount:      100,
		Timestamp:   time.Now(),
		Origin:      "0xorigin",
		Destination: "0xdest",
		AssetType:   "token",
	}
}

func TestValidateTransactionAccepts(t *testing.T) {
	if err := ValidateTransaction(validTx()); err != nil {
		t.Errorf("valid transaction rejected: %v", err)
	}

	zero := validTx()
	zero.Amount = 0
	if err := ValidateTransaction(zero); err != nil {
		t.Errorf("zero amount should be accepted: %v", err)
	}
}

func TestValidateTransactionRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*risk.TransactionRecord)
		field  string
	}{
		{"missing id", func(tx *risk.TransactionRecord) { tx.ID = "" }, "id"},
		{"blank origin", func(tx *risk.TransactionRecord) { tx.Origin = "   " }, "origin"},
		{"missing destination", func(tx *risk.TransactionRecord) { tx.Destination = "" }, "destination"},
		{"missing asset type", func(tx *risk.TransactionRecord) { tx.AssetType = "" }, "assetType"},
		{"negative amount", func(tx *risk.TransactionRecord) { tx.Amount = -1 }, "amount"},
		{"negative account age", func(tx *risk.TransactionRecord) { tx.AccountAgeDays = -1 }, "accountAgeDays"},
		{"zero timestamp", func(tx *risk.TransactionRecord) { tx.Timestamp = time.Time{} }, "timestamp"},
		{"oversized id", func(tx *risk.TransactionRecord) { tx.ID = strings.Repeat("a", 300) }, "id"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := validTx()
			tc.mutate(tx)
			err := ValidateTransaction(tx)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for field %s: %v", tc.field, verrs)
			}
		})
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"  hello  ", 100, "hello"},
		{"hello\x00world", 100, "helloworld"},
		{"abcdef", 3, "abc"},
		{"", 100, ""},
	}
	for _, tc := range tests {
		if got := SanitizeString(tc.input, tc.maxLen); got != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, got, tc.expected)
		}
	}
}

func TestSanitizeTransaction(t *testing.T) {
	tx := validTx()
	tx.Origin = "  0xorigin\x00  "
	SanitizeTransaction(tx)
	if tx.Origin != "0xorigin" {
		t.Errorf("origin = %q, want sanitized", tx.Origin)
	}
}
