package provider

import (
	"context"
	"sync"
	"time"

	"github.com/aeges-net/aeges/internal/risk"
)

// Fake is a scripted provider for tests and local development. It implements
// the same Adapter contract as the real backends and must never be wired
// into production decision logic.
type Fake struct {
	name string

	mu       sync.Mutex
	verdicts []*Verdict
	errs     []error
	latency  time.Duration
	calls    int
}

// NewFake creates a fake provider with the given name.
func NewFake(name string) *Fake {
	return &Fake{name: name}
}

// Respond queues a verdict to return on the next call.
func (f *Fake) Respond(v *Verdict) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts = append(f.verdicts, v)
	return f
}

// Fail queues an error to return on the next call.
func (f *Fake) Fail(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
	f.verdicts = append(f.verdicts, nil) // keep queues aligned
	return f
}

// WithLatency delays every call, honoring context cancellation.
func (f *Fake) WithLatency(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
	return f
}

// Calls reports how many Analyze calls the fake has served.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Name() string { return f.name }
func (f *Fake) Kind() Kind   { return KindFake }

func (f *Fake) Analyze(ctx context.Context, tx *risk.TransactionRecord, prompt string) (*Verdict, error) {
	f.mu.Lock()
	f.calls++
	latency := f.latency

	var verdict *Verdict
	var err error
	if len(f.verdicts) > 0 {
		verdict = f.verdicts[0]
		f.verdicts = f.verdicts[1:]
	}
	if len(f.errs) > 0 && verdict == nil {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	f.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, classifyTransport(f.name, ctx.Err())
		}
	}

	if err != nil {
		return nil, err
	}
	if verdict == nil {
		// Unscripted: behave like a cooperative, middling backend.
		verdict = &Verdict{Provider: f.name, Confidence: 0.5, RiskScore: 0.5}
	}
	out := *verdict
	out.Provider = f.name
	return &out, nil
}

func (f *Fake) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}
