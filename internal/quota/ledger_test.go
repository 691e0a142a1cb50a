package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"classifieds-messaging/backend/internal/testutil"
	"classifieds-messaging/backend/pkg/logger"
	"classifieds-messaging/backend/pkg/resilience"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noon = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]func(Policy) Ledger {
	t.Helper()
	return map[string]func(Policy) Ledger{
		"memory": NewMemoryLedger,
		"sql": func(p Policy) Ledger {
			return NewSQLLedger(testutil.NewDB(t), p)
		},
		"redis": func(p Policy) Ledger {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisLedger(client, p)
		},
	}
}

func TestLedger_DailyLimit(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := mk(DefaultPolicy())
			ctx := context.Background()

			for i := 1; i <= 25; i++ {
				d, err := l.TryConsume(ctx, "u1", false, noon)
				require.NoError(t, err)
				require.True(t, d.Allowed, "send %d", i)
				assert.Equal(t, 25-i, d.Remaining)
				assert.Equal(t, i, d.Used)
			}

			d, err := l.TryConsume(ctx, "u1", false, noon)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 0, d.Remaining)
			assert.Equal(t, 25, d.Used)
			assert.Equal(t, 25, d.Limit)

			usage, err := l.Usage(ctx, "u1", false, noon)
			require.NoError(t, err)
			assert.Equal(t, 25, usage.Used)
			assert.Equal(t, 0, usage.Remaining)

			// other users are unaffected
			d, err = l.TryConsume(ctx, "u2", false, noon)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 24, d.Remaining)
		})
	}
}

func TestLedger_ResetsOnNextDay(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := mk(Policy{Limit: 2})
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				_, err := l.TryConsume(ctx, "u1", false, noon)
				require.NoError(t, err)
			}

			d, err := l.TryConsume(ctx, "u1", false, noon.Add(12*time.Hour))
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 1, d.Remaining)
		})
	}
}

func TestLedger_PremiumIsUnlimited(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := mk(Policy{Limit: 1})
			ctx := context.Background()

			for i := 0; i < 50; i++ {
				d, err := l.TryConsume(ctx, "p1", true, noon)
				require.NoError(t, err)
				require.True(t, d.Allowed)
				require.True(t, d.Unlimited())
			}

			// premium sends are not counted against a later non-premium day
			d, err := l.TryConsume(ctx, "p1", false, noon)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 0, d.Remaining)
		})
	}
}

func TestLedger_ConcurrentSendsNeverExceedLimit(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := mk(Policy{Limit: 10})
			ctx := context.Background()

			var (
				wg      sync.WaitGroup
				allowed atomic.Int32
			)
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.TryConsume(ctx, "u1", false, noon)
					if err == nil && d.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(10), allowed.Load())

			usage, err := l.Usage(ctx, "u1", false, noon)
			require.NoError(t, err)
			assert.Equal(t, 10, usage.Used)
		})
	}
}

func TestCalendarDay_UsesLocation(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	late := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-10", CalendarDay(late, time.UTC))
	assert.Equal(t, "2024-03-11", CalendarDay(late, warsaw))
	assert.Equal(t, "2024-03-10", CalendarDay(late, nil))
}

func TestRedisLedger_StoreDownFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLedger(client, DefaultPolicy())
	mr.Close()

	_, err := l.TryConsume(context.Background(), "u1", false, noon)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	// premium never touches the store
	d, err := l.TryConsume(context.Background(), "p1", true, noon)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

type failingLedger struct {
	calls atomic.Int32
}

func (f *failingLedger) TryConsume(context.Context, string, bool, time.Time) (Decision, error) {
	f.calls.Add(1)
	return Decision{}, errors.Join(ErrUnavailable, errors.New("connection refused"))
}

func (f *failingLedger) Usage(ctx context.Context, userID string, isPremium bool, now time.Time) (Decision, error) {
	return f.TryConsume(ctx, userID, isPremium, now)
}

func TestWithBreaker_OpensAndFailsClosed(t *testing.T) {
	inner := &failingLedger{}
	cb := resilience.NewCircuitBreaker(resilience.Config{
		Name:             "quota",
		FailureThreshold: 2,
		RetryTimeout:     time.Hour,
	}, logger.Nop())
	l := WithBreaker(inner, cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.TryConsume(ctx, "u1", false, noon)
		require.ErrorIs(t, err, ErrUnavailable)
	}
	require.Equal(t, resilience.StateOpen, cb.State())

	_, err := l.TryConsume(ctx, "u1", false, noon)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.calls.Load(), "open circuit must not reach the store")
}
