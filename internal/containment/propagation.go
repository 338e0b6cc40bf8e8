package containment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aeges-net/aeges/internal/retry"
)

// HTTPPropagator pushes containment notices to a network endpoint as JSON.
type HTTPPropagator struct {
	url    string
	client *http.Client
}

// NewHTTPPropagator creates a propagator posting to the given URL.
func NewHTTPPropagator(url string) *HTTPPropagator {
	return &HTTPPropagator{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type propagationNotice struct {
	ContainmentID string    `json:"containmentId"`
	TransactionID string    `json:"transactionId"`
	WalletAddress string    `json:"walletAddress"`
	Severity      string    `json:"severity"`
	EconomicState string    `json:"economicState"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// Propagate posts the notice, retrying transient failures with backoff.
// Client errors from the remote end are not retried.
func (p *HTTPPropagator) Propagate(ctx context.Context, c *Containment) error {
	payload, err := json.Marshal(propagationNotice{
		ContainmentID: c.ID,
		TransactionID: c.TransactionID,
		WalletAddress: c.WalletAddress,
		Severity:      string(c.Severity),
		EconomicState: string(c.EconomicState),
		IssuedAt:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal propagation notice: %w", err)
	}

	return retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to build propagation request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("propagation request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return retry.Permanent(fmt.Errorf("propagation rejected with status %d", resp.StatusCode))
		default:
			return fmt.Errorf("propagation rejected with status %d", resp.StatusCode)
		}
	})
}

// NopPropagator logs the notice and does nothing else. Used when no
// propagation endpoint is configured.
type NopPropagator struct {
	Logger *slog.Logger
}

func (p NopPropagator) Propagate(ctx context.Context, c *Containment) error {
	if p.Logger != nil {
		p.Logger.Debug("propagation disabled, notice dropped", "containment_id", c.ID)
	}
	return nil
}
