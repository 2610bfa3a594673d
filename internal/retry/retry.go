package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"time"
)

type Config struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// Engine runs an operation until it succeeds, fails fatally or runs out of
// attempts. It keeps no state between calls.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	random    func() float64
	onAttempt func(op, outcome string)
}

type Option func(*Engine)

func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// WithRandom replaces the jitter source; fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(e *Engine) {
		e.random = fn
	}
}

func WithAttemptObserver(fn func(op, outcome string)) Option {
	return func(e *Engine) {
		e.onAttempt = fn
	}
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.ExponentialBase < 1 {
		cfg.ExponentialBase = def.ExponentialBase
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger.With("component", "retry"),
		sleep:  sleepContext,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attempts is the total number of tries, the first one included.
func (e *Engine) Attempts() int {
	return e.cfg.MaxRetries + 1
}

// Delay returns the wait after the n-th failed attempt, counting from zero.
func (e *Engine) Delay(n int) time.Duration {
	d := float64(e.cfg.BaseDelay) * math.Pow(e.cfg.ExponentialBase, float64(n))
	if d > float64(e.cfg.MaxDelay) {
		d = float64(e.cfg.MaxDelay)
	}
	if e.cfg.Jitter {
		d *= 0.8 + 0.4*e.random()
	}
	return time.Duration(d)
}

func (e *Engine) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := e.Attempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			e.logger.Debug("attempt succeeded", "op", op, "attempt", attempt+1)
			e.observe(op, "success")
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			e.observe(op, "canceled")
			return err
		}

		if !IsRetryable(err) {
			e.logger.Warn("attempt failed, not retryable",
				"op", op,
				"attempt", attempt+1,
				"status", statusLabel(err),
				"error", err,
			)
			e.observe(op, "fatal")
			return err
		}

		if attempt == attempts-1 {
			e.observe(op, "exhausted")
			break
		}

		delay := e.Delay(attempt)
		e.logger.Warn("attempt failed, retrying",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"status", statusLabel(err),
			"error", err,
		)
		e.observe(op, "retry")

		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	e.logger.Error("retries exhausted",
		"op", op,
		"attempts", attempts,
		"status", statusLabel(lastErr),
		"error", lastErr,
	)
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Do is Execute for operations that produce a value.
func Do[T any](ctx context.Context, e *Engine, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Execute(ctx, op, func(ctx context.Context) error {
		r, err := fn(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (e *Engine) observe(op, outcome string) {
	if e.onAttempt != nil {
		e.onAttempt(op, outcome)
	}
}

func statusLabel(err error) string {
	if code, ok := StatusCode(err); ok {
		return strconv.Itoa(code)
	}
	return "network"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
