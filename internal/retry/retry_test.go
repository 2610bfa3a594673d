package retry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type RetryTestSuite struct {
	suite.Suite
	ctx    context.Context
	logger *slog.Logger
	sleeps []time.Duration
}

func (s *RetryTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.sleeps = nil
}

func TestRetryTestSuite(t *testing.T) {
	suite.Run(t, new(RetryTestSuite))
}

func (s *RetryTestSuite) engine(cfg Config, opts ...Option) *Engine {
	opts = append([]Option{WithSleep(func(_ context.Context, d time.Duration) error {
		s.sleeps = append(s.sleeps, d)
		return nil
	})}, opts...)
	return New(cfg, s.logger, opts...)
}

// scripted returns an operation replaying statuses; 200 means success.
func scripted(statuses ...int) (func(context.Context) (int, error), *int) {
	calls := 0
	return func(context.Context) (int, error) {
		status := statuses[min(calls, len(statuses)-1)]
		calls++
		if status == 200 {
			return status, nil
		}
		return 0, &StatusError{StatusCode: status}
	}, &calls
}

func noJitter() Config {
	cfg := DefaultConfig()
	cfg.Jitter = false
	return cfg
}

func (s *RetryTestSuite) TestDo_RetriesRateLimitUntilSuccess() {
	e := s.engine(noJitter())
	op, calls := scripted(429, 429, 200)

	status, err := Do(s.ctx, e, "query", op)

	s.NoError(err)
	s.Equal(200, status)
	s.Equal(3, *calls)
	s.Equal([]time.Duration{time.Second, 2 * time.Second}, s.sleeps)
}

func (s *RetryTestSuite) TestDo_FatalStatusFailsImmediately() {
	e := s.engine(noJitter())
	op, calls := scripted(404)

	_, err := Do(s.ctx, e, "query", op)

	s.Error(err)
	s.Equal(1, *calls)
	s.Empty(s.sleeps)

	code, ok := StatusCode(err)
	s.True(ok)
	s.Equal(404, code)

	var exhausted *ExhaustedError
	s.False(errors.As(err, &exhausted))
}

func (s *RetryTestSuite) TestDo_FatalStatuses() {
	for _, status := range []int{400, 401, 403, 404} {
		s.sleeps = nil
		op, calls := scripted(status)

		_, err := Do(s.ctx, s.engine(noJitter()), "query", op)

		s.Error(err)
		s.Equal(1, *calls, "status %d", status)
		s.True(IsFatal(err))
	}
}

func (s *RetryTestSuite) TestDo_ExhaustsAttemptsAndTagsCount() {
	e := s.engine(noJitter())
	op, calls := scripted(503, 502, 500, 504)

	_, err := Do(s.ctx, e, "query", op)

	s.Equal(4, *calls)
	var exhausted *ExhaustedError
	s.Require().True(errors.As(err, &exhausted))
	s.Equal(4, exhausted.Attempts)

	code, _ := StatusCode(err)
	s.Equal(504, code)
	s.False(IsFatal(err))
	s.Equal([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, s.sleeps)
}

func (s *RetryTestSuite) TestExecute_NetworkErrorsAreRetried() {
	e := s.engine(noJitter())
	calls := 0

	err := e.Execute(s.ctx, "create", func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	s.NoError(err)
	s.Equal(2, calls)
}

func (s *RetryTestSuite) TestExecute_PermanentErrorIsNotRetried() {
	e := s.engine(noJitter())
	sentinel := errors.New("missing credential")
	calls := 0

	err := e.Execute(s.ctx, "create", func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	s.ErrorIs(err, sentinel)
	s.Equal(1, calls)
	s.True(IsFatal(err))
}

func (s *RetryTestSuite) TestExecute_StopsWhenContextCanceled() {
	ctx, cancel := context.WithCancel(s.ctx)
	e := New(noJitter(), s.logger, WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	calls := 0

	err := e.Execute(ctx, "query", func(context.Context) error {
		calls++
		return &StatusError{StatusCode: 503}
	})

	s.ErrorIs(err, context.Canceled)
	s.Equal(1, calls)
}

func (s *RetryTestSuite) TestDelay_CapsAtMaxDelay() {
	e := s.engine(noJitter())

	s.Equal(time.Second, e.Delay(0))
	s.Equal(8*time.Second, e.Delay(3))
	s.Equal(10*time.Second, e.Delay(4))
	s.Equal(10*time.Second, e.Delay(20))
}

func (s *RetryTestSuite) TestDelay_JitterStaysWithinBounds() {
	low := s.engine(DefaultConfig(), WithRandom(func() float64 { return 0 }))
	high := s.engine(DefaultConfig(), WithRandom(func() float64 { return 0.999999 }))

	s.Equal(800*time.Millisecond, low.Delay(0))
	s.InDelta(float64(1200*time.Millisecond), float64(high.Delay(0)), float64(time.Millisecond))

	e := s.engine(DefaultConfig())
	for n := range 6 {
		d := e.Delay(n)
		base := noJitterDelay(n)
		s.GreaterOrEqual(d, time.Duration(float64(base)*0.8))
		s.LessOrEqual(d, time.Duration(float64(base)*1.2))
	}
}

func noJitterDelay(n int) time.Duration {
	return New(noJitter(), slog.New(slog.NewTextHandler(os.Stdout, nil))).Delay(n)
}

func (s *RetryTestSuite) TestAttemptObserver() {
	var outcomes []string
	e := s.engine(noJitter(), WithAttemptObserver(func(_, outcome string) {
		outcomes = append(outcomes, outcome)
	}))
	op, _ := scripted(429, 200)

	_, err := Do(s.ctx, e, "query", op)

	s.NoError(err)
	s.Equal([]string{"retry", "success"}, outcomes)
}

func (s *RetryTestSuite) TestIsRetryable() {
	s.False(IsRetryable(nil))
	s.True(IsRetryable(errors.New("dial tcp: i/o timeout")))
	s.True(IsRetryable(&StatusError{StatusCode: 429}))
	s.True(IsRetryable(&ExhaustedError{Attempts: 4, Err: &StatusError{StatusCode: 503}}))
	s.False(IsRetryable(&StatusError{StatusCode: 400}))
	s.False(IsRetryable(&StatusError{StatusCode: 409}))
	s.False(IsRetryable(Permanent(errors.New("bad config"))))
}
