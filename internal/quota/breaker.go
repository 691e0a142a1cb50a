package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classifieds-messaging/backend/pkg/resilience"
)

type breakerLedger struct {
	next Ledger
	cb   *resilience.CircuitBreaker
}

// WithBreaker stops hitting a failing counter store until it recovers.
// While the circuit is open non-premium sends are denied with ErrUnavailable.
func WithBreaker(next Ledger, cb *resilience.CircuitBreaker) Ledger {
	return &breakerLedger{next: next, cb: cb}
}

func (b *breakerLedger) TryConsume(ctx context.Context, userID string, isPremium bool, now time.Time) (Decision, error) {
	if isPremium {
		return b.next.TryConsume(ctx, userID, isPremium, now)
	}

	var d Decision
	err := b.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		d, err = b.next.TryConsume(ctx, userID, isPremium, now)
		return err
	})
	if err != nil {
		return Decision{}, wrapUnavailable(err)
	}
	return d, nil
}

func (b *breakerLedger) Usage(ctx context.Context, userID string, isPremium bool, now time.Time) (Decision, error) {
	if isPremium {
		return b.next.Usage(ctx, userID, isPremium, now)
	}

	var d Decision
	err := b.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		d, err = b.next.Usage(ctx, userID, isPremium, now)
		return err
	})
	if err != nil {
		return Decision{}, wrapUnavailable(err)
	}
	return d, nil
}

func wrapUnavailable(err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
