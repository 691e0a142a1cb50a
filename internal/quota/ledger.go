// Package quota enforces the daily message allowance of non-premium users.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Unlimited is reported as Remaining for premium users.
const Unlimited = -1

// DefaultDailyLimit is the number of messages a non-premium user may send per day.
const DefaultDailyLimit = 25

// ErrUnavailable wraps every counter store failure. Callers must deny the send.
var ErrUnavailable = errors.New("quota store unavailable")

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Used      int
	Remaining int
	Limit     int
}

// Unlimited reports whether the decision was made for a premium user.
func (d Decision) Unlimited() bool {
	return d.Remaining == Unlimited
}

// Ledger counts messages per user and calendar day.
type Ledger interface {
	// TryConsume atomically counts one send attempt for userID on the day of now.
	// Premium users are always allowed and never counted.
	TryConsume(ctx context.Context, userID string, isPremium bool, now time.Time) (Decision, error)
	// Usage reports the current count without consuming.
	Usage(ctx context.Context, userID string, isPremium bool, now time.Time) (Decision, error)
}

// Policy is the limit and the timezone that defines a calendar day.
type Policy struct {
	Limit    int
	Location *time.Location
}

// DefaultPolicy is 25 messages per UTC day.
func DefaultPolicy() Policy {
	return Policy{Limit: DefaultDailyLimit, Location: time.UTC}
}

func (p Policy) normalized() Policy {
	if p.Limit <= 0 {
		p.Limit = DefaultDailyLimit
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
	return p
}

// CalendarDay formats the day t falls on in loc as YYYY-MM-DD.
func CalendarDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// counter is the storage-specific half of a ledger.
type counter interface {
	// increment adds one to the (userID, day) counter only while it is below limit
	// and records a denied attempt otherwise. It returns the count after the call.
	increment(ctx context.Context, userID, day string, limit int) (sent int, allowed bool, err error)
	current(ctx context.Context, userID, day string) (int, error)
}

type ledger struct {
	policy  Policy
	counter counter
}

func newLedger(p Policy, c counter) *ledger {
	return &ledger{policy: p.normalized(), counter: c}
}

func (l *ledger) TryConsume(ctx context.Context, userID string, isPremium bool, now time.Time) (Decision, error) {
	if isPremium {
		return l.unlimited(), nil
	}

	sent, allowed, err := l.counter.increment(ctx, userID, CalendarDay(now, l.policy.Location), l.policy.Limit)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return l.decision(sent, allowed), nil
}

func (l *ledger) Usage(ctx context.Context, userID string, isPremium bool, now time.Time) (Decision, error) {
	if isPremium {
		return l.unlimited(), nil
	}

	sent, err := l.counter.current(ctx, userID, CalendarDay(now, l.policy.Location))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return l.decision(sent, sent < l.policy.Limit), nil
}

func (l *ledger) unlimited() Decision {
	return Decision{Allowed: true, Remaining: Unlimited, Limit: l.policy.Limit}
}

func (l *ledger) decision(sent int, allowed bool) Decision {
	remaining := l.policy.Limit - sent
	if remaining < 0 || !allowed {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Used:      sent,
		Remaining: remaining,
		Limit:     l.policy.Limit,
	}
}
