package utils

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errUpstream = errors.New("upstream failure")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

// Circuit Breaker Tests

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("gateway")

	assert.Equal(t, "gateway", cb.Name())
	assert.Equal(t, uint32(20), cb.minRequests)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")

	err := cb.Execute(context.Background(), succeed)

	assert.NoError(t, err)
	assert.Equal(t, uint32(1), cb.counts.Requests)
	assert.Equal(t, uint32(1), cb.counts.TotalSuccesses)
}

func TestCircuitBreaker_ExecuteFailurePassesErrorThrough(t *testing.T) {
	cb := NewCircuitBreaker("test")

	err := cb.Execute(context.Background(), fail)

	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAndRejectsWithoutCalling(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", WithTrip(5, 0.6), WithBreakerClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, succeed))
	}
	for i := 0; i < 4; i++ {
		assert.Error(t, cb.Execute(ctx, fail))
	}

	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, func(context.Context) error {
		t.Fatal("request must not run while the breaker is open")
		return nil
	})
	assert.ErrorIs(t, err, ErrOpenState)
}

func TestCircuitBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", WithTrip(2, 0.5), WithTimeout(time.Minute), WithBreakerClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(61 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", WithTrip(2, 0.5), WithTimeout(time.Minute), WithBreakerClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.Advance(61 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", WithTrip(1, 0.5), WithTimeout(time.Second), WithBreakerClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(2 * time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)

	close(release)
	assert.NoError(t, <-done)
}

func TestCircuitBreaker_WindowResetsCounts(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("test", WithTrip(3, 0.6), WithBreakerClock(clock.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock.Advance(61 * time.Second)
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.counts.Requests)
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("concurrent-test", WithTrip(1000, 0.9))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = cb.Execute(ctx, func(context.Context) error {
				if id%10 == 0 {
					return errUpstream
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint32(100), cb.counts.Requests)
	assert.Equal(t, uint32(10), cb.counts.TotalFailures)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("panic-test")
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = cb.Execute(ctx, func(context.Context) error {
			panic("test panic")
		})
	})

	assert.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
}

// Reference Tests

func TestTimestampedReference(t *testing.T) {
	now := time.UnixMilli(1704103200123)

	ref, err := TimestampedReference("WD", now)

	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^WD-1704103200123-[0-9A-F]{8}$`), ref)
}

func TestTimestampedReference_SameMillisecondDiffers(t *testing.T) {
	now := time.UnixMilli(1704103200123)
	seen := make(map[string]struct{})

	for i := 0; i < 200; i++ {
		ref, err := TimestampedReference("REFUND", now)
		require.NoError(t, err)
		_, dup := seen[ref]
		require.False(t, dup, "duplicate reference %s", ref)
		seen[ref] = struct{}{}
	}
}

// Redis Client Tests

func TestFingerprint(t *testing.T) {
	a := Fingerprint("MNFY-1", "2000.00")

	assert.Equal(t, a, Fingerprint("MNFY-1", "2000.00"))
	assert.NotEqual(t, a, Fingerprint("MNFY-1", "2500.00"))
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
	assert.Len(t, a, 32)
}

func TestRedisHealthCheck_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")

	err := RedisHealthCheck(context.Background(), db)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHealthCheck_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetErr(errors.New("connection failed"))

	err := RedisHealthCheck(context.Background(), db)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
	assert.Contains(t, err.Error(), "connection failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func BenchmarkCircuitBreaker_Execute_Success(b *testing.B) {
	cb := NewCircuitBreaker("benchmark")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cb.Execute(ctx, succeed)
	}
}
