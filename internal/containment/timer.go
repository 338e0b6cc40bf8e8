package containment

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically expires containments that outlived their maximum
// duration without a completed recovery.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	sweeps   []func(context.Context)
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates the expiry sweep timer.
func NewTimer(service *Service, store Store, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		service:  service,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithSweep attaches an extra sweep to run on the same cadence, such as the
// recovery deadline sweep. Call before Start.
func (t *Timer) WithSweep(fn func(context.Context)) *Timer {
	t.sweeps = append(t.sweeps, fn)
	return t
}

// Running reports whether the sweep loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in containment sweep", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
	for _, fn := range t.sweeps {
		fn(ctx)
	}
}

func (t *Timer) sweep(ctx context.Context) {
	expired, err := t.store.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list expired containments", "error", err)
		return
	}

	for _, c := range expired {
		if _, err := t.service.Expire(ctx, c.ID); err != nil {
			t.logger.Warn("failed to expire containment",
				"containment_id", c.ID, "error", err)
			continue
		}
		t.logger.Info("containment expired",
			"containment_id", c.ID,
			"transaction_id", c.TransactionID,
			"age", time.Since(c.CreatedAt).Round(time.Second),
		)
	}
}
