// Package ratelimit provides fixed-window request budgets per analysis
// provider.
//
// There is no queuing or backpressure: once a provider's budget for the
// current window is spent, CanProceed returns false and the caller decides
// whether to fall back to another provider or abort.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures the limiter.
type Config struct {
	// Limit is the number of requests allowed per provider per window.
	Limit int
	// Window is the fixed window size.
	Window time.Duration
	// Overrides sets per-provider limits that differ from Limit.
	Overrides map[string]int
	// CleanupInterval is how often stale window counters are dropped.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Limit:           30,
		Window:          time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

type windowKey struct {
	provider string
	index    int64
}

// Limiter tracks fixed-window counters keyed by (provider, window index).
type Limiter struct {
	cfg      Config
	mu       sync.Mutex
	counters map[windowKey]int
	now      func() time.Time // test hook
	stop     chan struct{}
	once     sync.Once
}

// New creates a provider rate limiter and starts its cleanup loop.
func New(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	l := &Limiter{
		cfg:      cfg,
		counters: make(map[windowKey]int),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// CanProceed reports whether the provider still has budget in the current
// window. It does not consume budget; pair with Record on dispatch.
func (l *Limiter) CanProceed(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counters[l.key(provider)] < l.limitFor(provider)
}

// Record consumes one unit of the provider's budget for the current window.
func (l *Limiter) Record(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters[l.key(provider)]++
}

// Allow combines CanProceed and Record atomically: it consumes budget only
// when available and reports whether it did.
func (l *Limiter) Allow(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.key(provider)
	if l.counters[k] >= l.limitFor(provider) {
		return false
	}
	l.counters[k]++
	return true
}

// Remaining returns the provider's unused budget in the current window.
func (l *Limiter) Remaining(provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.limitFor(provider) - l.counters[l.key(provider)]
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (l *Limiter) key(provider string) windowKey {
	return windowKey{
		provider: provider,
		index:    l.now().UnixNano() / int64(l.cfg.Window),
	}
}

func (l *Limiter) limitFor(provider string) int {
	if limit, ok := l.cfg.Overrides[provider]; ok && limit > 0 {
		return limit
	}
	return l.cfg.Limit
}

// cleanup drops counters for windows that can no longer be current.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			current := l.now().UnixNano() / int64(l.cfg.Window)
			l.mu.Lock()
			for k := range l.counters {
				if k.index < current {
					delete(l.counters, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
