// Package ratelimit tracks per-provider request weight against a rolling
// one-minute budget. It never sleeps; callers decide what to do with the
// returned wait hint.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock supplies the current time. Injected so reservations are
// deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock used outside tests.
var SystemClock Clock = systemClock{}

// Tracker is a token bucket per provider: capacity equals the provider's
// weight ceiling, refilled continuously over a minute.
type Tracker struct {
	clock Clock

	mu       sync.Mutex
	defaults int
	limits   map[string]int
	buckets  map[string]*rate.Limiter
}

func NewTracker(weightPerMinute int, clock Clock) *Tracker {
	if weightPerMinute <= 0 {
		weightPerMinute = 6000
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Tracker{
		clock:    clock,
		defaults: weightPerMinute,
		limits:   make(map[string]int),
		buckets:  make(map[string]*rate.Limiter),
	}
}

// SetProviderLimit overrides the per-minute ceiling for one provider. Takes
// effect on the provider's next first reservation; an existing bucket is
// rebuilt.
func (t *Tracker) SetProviderLimit(provider string, weightPerMinute int) {
	if weightPerMinute <= 0 {
		return
	}
	t.mu.Lock()
	t.limits[provider] = weightPerMinute
	delete(t.buckets, provider)
	t.mu.Unlock()
}

func (t *Tracker) bucket(provider string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.buckets[provider]; ok {
		return b
	}
	ceiling := t.defaults
	if v, ok := t.limits[provider]; ok {
		ceiling = v
	}
	b := rate.NewLimiter(rate.Limit(float64(ceiling)/60.0), ceiling)
	t.buckets[provider] = b
	return b
}

// Reserve asks for weight units of budget. When the bucket cannot cover the
// request right now it is left untouched and a hint for how long to wait is
// returned. Weight larger than the ceiling can never be granted; the hint is
// zero in that case and the caller should treat it as a configuration fault.
func (t *Tracker) Reserve(provider string, weight int) (granted bool, wait time.Duration) {
	if weight <= 0 {
		return true, 0
	}
	b := t.bucket(provider)
	now := t.clock.Now()
	r := b.ReserveN(now, weight)
	if !r.OK() {
		return false, 0
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}
