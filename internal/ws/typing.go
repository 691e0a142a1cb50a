package ws

import (
	"sync"
	"time"
)

type typingKey struct {
	from string
	to   string
}

type typingEntry struct {
	timer    *time.Timer
	deadline time.Time
}

// typingTracker turns typing pings into start/stop transitions. An indicator
// that is not refreshed within ttl expires and emits a stop.
type typingTracker struct {
	ttl  time.Duration
	emit func(from, to string, active bool)

	mu     sync.Mutex
	active map[typingKey]*typingEntry
}

func newTypingTracker(ttl time.Duration, emit func(from, to string, active bool)) *typingTracker {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &typingTracker{
		ttl:    ttl,
		emit:   emit,
		active: make(map[typingKey]*typingEntry),
	}
}

func (t *typingTracker) start(from, to string) {
	k := typingKey{from, to}

	t.mu.Lock()
	if e, ok := t.active[k]; ok {
		e.deadline = time.Now().Add(t.ttl)
		t.mu.Unlock()
		return
	}
	e := &typingEntry{deadline: time.Now().Add(t.ttl)}
	e.timer = time.AfterFunc(t.ttl, func() { t.expire(k, e) })
	t.active[k] = e
	t.mu.Unlock()

	t.emit(from, to, true)
}

func (t *typingTracker) stop(from, to string) {
	k := typingKey{from, to}

	t.mu.Lock()
	e, ok := t.active[k]
	if ok {
		e.timer.Stop()
		delete(t.active, k)
	}
	t.mu.Unlock()

	if ok {
		t.emit(from, to, false)
	}
}

// stopAllFrom ends every indicator started by from
func (t *typingTracker) stopAllFrom(from string) {
	var targets []string

	t.mu.Lock()
	for k, e := range t.active {
		if k.from == from {
			e.timer.Stop()
			delete(t.active, k)
			targets = append(targets, k.to)
		}
	}
	t.mu.Unlock()

	for _, to := range targets {
		t.emit(from, to, false)
	}
}

func (t *typingTracker) expire(k typingKey, e *typingEntry) {
	t.mu.Lock()
	if t.active[k] != e {
		t.mu.Unlock()
		return
	}
	if left := time.Until(e.deadline); left > 0 {
		e.timer.Reset(left)
		t.mu.Unlock()
		return
	}
	delete(t.active, k)
	t.mu.Unlock()

	t.emit(k.from, k.to, false)
}
