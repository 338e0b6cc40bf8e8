// Package validation provides input validation for transaction submissions.
package validation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aeges-net/aeges/internal/risk"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 256

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// NonNegative checks that an amount is not negative
func NonNegative(field string, value float64) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// NonNegativeInt checks that a count is not negative
func NonNegativeInt(field string, value int) func() *ValidationError {
	return func() *ValidationError {
		if value < 0 {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// SanitizeTransaction normalizes the string fields of a transaction in place.
func SanitizeTransaction(tx *risk.TransactionRecord) {
	tx.ID = SanitizeString(tx.ID, MaxStringLength)
	tx.Origin = SanitizeString(tx.Origin, MaxStringLength)
	tx.Destination = SanitizeString(tx.Destination, MaxStringLength)
	tx.AssetType = SanitizeString(tx.AssetType, MaxStringLength)
}

// ValidateTransaction checks a transaction record before it enters the
// analysis pipeline. Returns nil when the record is acceptable.
func ValidateTransaction(tx *risk.TransactionRecord) error {
	errs := Validate(
		Required("id", tx.ID),
		Required("origin", tx.Origin),
		Required("destination", tx.Destination),
		Required("assetType", tx.AssetType),
		MaxLength("id", tx.ID, MaxStringLength),
		MaxLength("origin", tx.Origin, MaxStringLength),
		MaxLength("destination", tx.Destination, MaxStringLength),
		NonNegative("amount", tx.Amount),
		NonNegative("priorVolume", tx.PriorVolume),
		NonNegativeInt("accountAgeDays", tx.AccountAgeDays),
		NonNegativeInt("previousTransactions", tx.PreviousTransactions),
		func() *ValidationError {
			if tx.Timestamp.IsZero() {
				return &ValidationError{Field: "timestamp", Message: "is required"}
			}
			return nil
		},
	)
	if len(errs) > 0 {
		return errs
	}
	return nil
}
