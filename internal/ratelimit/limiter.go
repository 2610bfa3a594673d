package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultCapacity = 450
	DefaultWindow   = time.Minute
	DefaultMargin   = 100 * time.Millisecond
)

// Clock abstracts time so waits can be simulated.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Config struct {
	Capacity int
	Window   time.Duration
	Margin   time.Duration
}

type Stats struct {
	TenantID    string        `json:"tenant_id"`
	Count       int           `json:"count"`
	Limit       int           `json:"limit"`
	Window      time.Duration `json:"window"`
	WindowStart time.Time     `json:"window_start"`
}

// Limiter is a per-tenant sliding-window admission gate. All state lives
// behind one mutex; callers block in Acquire instead of being rejected.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	capacity int
	window   time.Duration
	margin   time.Duration
	clock    Clock
	onWait   func(tenantID string, waited time.Duration)
}

type Option func(*Limiter)

func WithClock(c Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// WithWaitObserver is called once per Acquire that had to wait.
func WithWaitObserver(fn func(tenantID string, waited time.Duration)) Option {
	return func(l *Limiter) {
		l.onWait = fn
	}
}

func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Margin < 0 {
		cfg.Margin = 0
	}

	l := &Limiter{
		windows:  make(map[string][]time.Time),
		capacity: cfg.Capacity,
		window:   cfg.Window,
		margin:   cfg.Margin,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until tenantID has a free slot in the trailing window. It
// only fails when ctx is done.
func (l *Limiter) Acquire(ctx context.Context, tenantID string) error {
	var waited time.Duration
	for {
		wait, ok := l.tryAcquire(tenantID)
		if ok {
			if waited > 0 && l.onWait != nil {
				l.onWait(tenantID, waited)
			}
			return nil
		}

		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

func (l *Limiter) tryAcquire(tenantID string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	calls := prune(l.windows[tenantID], now.Add(-l.window))

	if len(calls) < l.capacity {
		l.windows[tenantID] = append(calls, now)
		return 0, true
	}

	l.windows[tenantID] = calls
	return l.window - now.Sub(calls[0]) + l.margin, false
}

func (l *Limiter) Stats(tenantID string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	calls, tracked := l.windows[tenantID]
	if tracked {
		calls = prune(calls, now.Add(-l.window))
		l.windows[tenantID] = calls
	}

	start := now
	if len(calls) > 0 {
		start = calls[0]
	}

	return Stats{
		TenantID:    tenantID,
		Count:       len(calls),
		Limit:       l.capacity,
		Window:      l.window,
		WindowStart: start,
	}
}

func (l *Limiter) Reset(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, tenantID)
}

func (l *Limiter) ResetAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string][]time.Time)
}

// prune drops timestamps at or before cutoff, reusing the backing array.
func prune(calls []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(calls) && !calls[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return calls
	}
	n := copy(calls, calls[i:])
	return calls[:n]
}
