// Package provider defines the uniform adapter contract for external AI
// analysis backends.
//
// Each backend speaks its own request/response shape but returns the same
// Verdict type. Failures are classified into a small taxonomy so the
// consensus layer can treat providers interchangeably: a timed-out or
// rate-limited provider is excluded from aggregation, never surfaced to the
// caller unless every provider fails.
//
// Provider credentials never appear in errors or logs.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeges-net/aeges/internal/risk"
)

// Kind enumerates the provider variants. Selection is by configuration,
// never by inspecting endpoint strings.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
	KindGemini    Kind = "gemini"
	KindFallback  Kind = "fallback"
	KindFake      Kind = "fake" // test-only
)

// Verdict is one backend's risk judgment for a transaction.
// Ephemeral: it exists only during aggregation.
type Verdict struct {
	Provider        string   `json:"provider"`
	Confidence      float64  `json:"confidence"` // [0,1]
	RiskScore       float64  `json:"riskScore"`  // [0,1]
	Pattern         string   `json:"pattern"`    // single dominant pattern tag
	Recommendations []string `json:"recommendations,omitempty"`
}

// ErrorKind classifies a provider failure.
type ErrorKind string

const (
	ErrTimeout           ErrorKind = "timeout"
	ErrRateLimited       ErrorKind = "rate_limited"
	ErrAuthFailure       ErrorKind = "auth_failure"
	ErrMalformedResponse ErrorKind = "malformed_response"
	ErrUnavailable       ErrorKind = "unavailable"
)

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     ErrorKind
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
}

// NewError builds a classified provider error.
func NewError(provider string, kind ErrorKind, message string) *Error {
	return &Error{Provider: provider, Kind: kind, Message: message}
}

// KindOf returns the error kind if err is a provider error.
func KindOf(err error) (ErrorKind, bool) {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.Kind, true
	}
	return "", false
}

// Adapter is the uniform capability every backend implements.
type Adapter interface {
	// Name returns the provider's stable name for logs, metrics, and
	// rate-limit keys.
	Name() string
	// Kind returns the provider variant.
	Kind() Kind
	// Analyze solicits a verdict for the transaction. The context carries
	// the per-call timeout; cancelling it must abort only this call.
	Analyze(ctx context.Context, tx *risk.TransactionRecord, prompt string) (*Verdict, error)
	// HealthCheck verifies the backend is reachable and authorized.
	HealthCheck(ctx context.Context) error
}

var providerCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aeges",
	Subsystem: "provider",
	Name:      "calls_total",
	Help:      "Provider analysis calls by provider and outcome.",
}, []string{"provider", "outcome"})

func init() {
	prometheus.MustRegister(providerCalls)
}

func observe(provider string, err error) {
	outcome := "ok"
	if err != nil {
		if kind, ok := KindOf(err); ok {
			outcome = string(kind)
		} else {
			outcome = "error"
		}
	}
	providerCalls.WithLabelValues(provider, outcome).Inc()
}

// BuildPrompt renders the analysis prompt sent to every backend. The
// response contract is a single JSON object so parsing stays uniform.
func BuildPrompt(tx *risk.TransactionRecord) string {
	var b strings.Builder
	b.WriteString("You are a transaction risk analyst. Assess the behavioral risk of the transaction below.\n\n")
	fmt.Fprintf(&b, "amount: %.2f\nasset_type: %s\naccount_age_days: %d\nprevious_transactions: %d\nprior_volume: %.2f\n\n",
		tx.Amount, tx.AssetType, tx.AccountAgeDays, tx.PreviousTransactions, tx.PriorVolume)
	b.WriteString("Respond with exactly one JSON object and nothing else:\n")
	b.WriteString(`{"confidence": <0..1>, "risk_score": <0..1>, "pattern": "<dominant pattern tag>", "recommendations": ["<action>", ...]}`)
	return b.String()
}

// verdictPayload is the wire shape every backend must produce.
type verdictPayload struct {
	Confidence      float64  `json:"confidence"`
	RiskScore       float64  `json:"risk_score"`
	Pattern         string   `json:"pattern"`
	Recommendations []string `json:"recommendations"`
}

// ParseVerdict extracts the JSON verdict object from raw model output.
// Models sometimes wrap the object in prose or code fences; everything
// outside the outermost braces is ignored. Any violation of the contract
// is a malformed_response error.
func ParseVerdict(providerName, raw string) (*Verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, NewError(providerName, ErrMalformedResponse, "no JSON object in response")
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, NewError(providerName, ErrMalformedResponse, "invalid verdict JSON")
	}
	if payload.Confidence < 0 || payload.Confidence > 1 {
		return nil, NewError(providerName, ErrMalformedResponse, "confidence out of range")
	}
	if payload.RiskScore < 0 || payload.RiskScore > 1 {
		return nil, NewError(providerName, ErrMalformedResponse, "risk_score out of range")
	}

	return &Verdict{
		Provider:        providerName,
		Confidence:      payload.Confidence,
		RiskScore:       payload.RiskScore,
		Pattern:         payload.Pattern,
		Recommendations: payload.Recommendations,
	}, nil
}

// classifyTransport maps transport-level failures onto the taxonomy.
func classifyTransport(providerName string, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(providerName, ErrTimeout, "call deadline exceeded")
	case errors.Is(err, context.Canceled):
		return NewError(providerName, ErrTimeout, "call canceled")
	default:
		// Network-level failures are indistinguishable from slow backends
		// as far as fallback policy is concerned.
		return NewError(providerName, ErrTimeout, "transport failure")
	}
}

// classifyStatus maps an HTTP status onto the taxonomy.
func classifyStatus(providerName string, status int) *Error {
	switch {
	case status == 401 || status == 403:
		return NewError(providerName, ErrAuthFailure, fmt.Sprintf("status %d", status))
	case status == 429:
		return NewError(providerName, ErrRateLimited, fmt.Sprintf("status %d", status))
	default:
		return NewError(providerName, ErrMalformedResponse, fmt.Sprintf("unexpected status %d", status))
	}
}
