package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type LimiterTestSuite struct {
	suite.Suite
	ctx   context.Context
	clock *fakeClock
}

func (s *LimiterTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = newFakeClock()
}

func TestLimiterTestSuite(t *testing.T) {
	suite.Run(t, new(LimiterTestSuite))
}

func (s *LimiterTestSuite) TestAcquire_AdmitsUpToCapacityWithoutWaiting() {
	l := New(Config{Capacity: 3, Window: 10 * time.Second}, WithClock(s.clock))

	for range 3 {
		s.NoError(l.Acquire(s.ctx, "tenant-1"))
	}

	s.Empty(s.clock.sleeps)
	s.Equal(3, l.Stats("tenant-1").Count)
}

func (s *LimiterTestSuite) TestAcquire_WaitsUntilOldestCallLeavesWindow() {
	var observed time.Duration
	l := New(
		Config{Capacity: 2, Window: 10 * time.Second, Margin: 100 * time.Millisecond},
		WithClock(s.clock),
		WithWaitObserver(func(_ string, waited time.Duration) { observed = waited }),
	)
	start := s.clock.Now()

	s.Require().NoError(l.Acquire(s.ctx, "tenant-1"))
	s.clock.Advance(4 * time.Second)
	s.Require().NoError(l.Acquire(s.ctx, "tenant-1"))

	s.Require().NoError(l.Acquire(s.ctx, "tenant-1"))

	s.Equal([]time.Duration{6100 * time.Millisecond}, s.clock.sleeps)
	s.Equal(start.Add(10100*time.Millisecond), s.clock.Now())
	s.Equal(6100*time.Millisecond, observed)
}

func (s *LimiterTestSuite) TestAcquire_NeverExceedsCapacityInAnyWindow() {
	const (
		capacity = 5
		window   = time.Second
	)
	l := New(Config{Capacity: capacity, Window: window, Margin: 10 * time.Millisecond}, WithClock(s.clock))
	rng := rand.New(rand.NewPCG(1, 2))

	admitted := map[string][]time.Time{}
	tenants := []string{"a", "b", "c"}

	for range 3000 {
		tenant := tenants[rng.IntN(len(tenants))]
		s.clock.Advance(time.Duration(rng.IntN(150)) * time.Millisecond)

		s.Require().NoError(l.Acquire(s.ctx, tenant))
		admitted[tenant] = append(admitted[tenant], s.clock.Now())
	}

	for tenant, times := range admitted {
		for i := capacity; i < len(times); i++ {
			gap := times[i].Sub(times[i-capacity])
			s.GreaterOrEqualf(gap, window,
				"tenant %s admitted %d calls within %s ending at call %d", tenant, capacity+1, gap, i)
		}
	}
}

func (s *LimiterTestSuite) TestAcquire_ConcurrentCallersShareOneBudget() {
	l := New(Config{Capacity: 10, Window: time.Second}, WithClock(s.clock))

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				s.NoError(l.Acquire(s.ctx, fmt.Sprintf("tenant-%d", w%2)))
			}
		}()
	}
	wg.Wait()

	for _, tenant := range []string{"tenant-0", "tenant-1"} {
		s.LessOrEqual(l.Stats(tenant).Count, 10)
	}
	s.NotEmpty(s.clock.sleeps)
}

func (s *LimiterTestSuite) TestAcquire_TenantsAreIsolated() {
	l := New(Config{Capacity: 1, Window: time.Minute}, WithClock(s.clock))

	s.NoError(l.Acquire(s.ctx, "tenant-1"))
	s.NoError(l.Acquire(s.ctx, "tenant-2"))

	s.Empty(s.clock.sleeps)
}

func (s *LimiterTestSuite) TestAcquire_ReturnsContextError() {
	l := New(Config{Capacity: 1, Window: time.Minute}, WithClock(s.clock))
	s.Require().NoError(l.Acquire(s.ctx, "tenant-1"))

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	s.ErrorIs(l.Acquire(ctx, "tenant-1"), context.Canceled)
}

func (s *LimiterTestSuite) TestStats() {
	l := New(Config{Capacity: 450, Window: time.Minute}, WithClock(s.clock))
	first := s.clock.Now()

	s.Require().NoError(l.Acquire(s.ctx, "tenant-1"))
	s.clock.Advance(time.Second)
	s.Require().NoError(l.Acquire(s.ctx, "tenant-1"))

	stats := l.Stats("tenant-1")
	s.Equal(2, stats.Count)
	s.Equal(450, stats.Limit)
	s.Equal(time.Minute, stats.Window)
	s.Equal(first, stats.WindowStart)

	s.clock.Advance(time.Minute)
	s.Equal(0, l.Stats("tenant-1").Count)
}

func (s *LimiterTestSuite) TestStats_UnknownTenantIsNotTracked() {
	l := New(Config{Capacity: 5, Window: time.Minute}, WithClock(s.clock))

	for i := range 3 {
		stats := l.Stats(fmt.Sprintf("unknown-%d", i))
		s.Equal(0, stats.Count)
		s.Equal(s.clock.Now(), stats.WindowStart)
	}
	s.Empty(l.windows)

	s.Require().NoError(l.Acquire(s.ctx, "tenant-1"))
	l.Stats("tenant-1")
	s.Len(l.windows, 1)
}

func (s *LimiterTestSuite) TestReset() {
	l := New(Config{Capacity: 1, Window: time.Minute}, WithClock(s.clock))
	s.Require().NoError(l.Acquire(s.ctx, "tenant-1"))
	s.Require().NoError(l.Acquire(s.ctx, "tenant-2"))

	l.Reset("tenant-1")
	s.Equal(0, l.Stats("tenant-1").Count)
	s.Equal(1, l.Stats("tenant-2").Count)

	s.NoError(l.Acquire(s.ctx, "tenant-1"))
	s.Empty(s.clock.sleeps)

	l.ResetAll()
	s.Equal(0, l.Stats("tenant-2").Count)
}

func (s *LimiterTestSuite) TestNew_AppliesDefaults() {
	l := New(Config{})

	stats := l.Stats("tenant-1")
	s.Equal(DefaultCapacity, stats.Limit)
	s.Equal(DefaultWindow, stats.Window)
}
