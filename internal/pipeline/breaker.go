package pipeline

import (
	"sync"
	"time"
)

// BreakerParams tune one circuit breaker.
type BreakerParams struct {
	Threshold int           // consecutive failures before opening
	Window    time.Duration // rolling window the failure run must fit in
	Cooldown  time.Duration // open time before a half-open probe
}

func DefaultBreakerParams() BreakerParams {
	return BreakerParams{
		Threshold: 5,
		Window:    time.Minute,
		Cooldown:  time.Minute,
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker is a per-source circuit breaker. It opens after Threshold
// consecutive failures inside the rolling window, short-circuits while
// open, and lets a single probe through once the cooldown elapses. A probe
// success closes it; a probe failure reopens it for another cooldown.
type Breaker struct {
	mu          sync.Mutex
	params      BreakerParams
	state       breakerState
	failures    int
	windowStart time.Time
	openedAt    time.Time
	probedAt    time.Time
	clock       func() time.Time
}

func NewBreaker(params BreakerParams) *Breaker {
	return &Breaker{params: params, clock: time.Now}
}

// Allow reports whether a call may proceed. While open it returns false
// until the cooldown elapses, then admits exactly one probe; further probes
// are admitted only if the previous one never reported back within another
// cooldown.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock()
	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.Sub(b.openedAt) < b.params.Cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probedAt = now
		return true
	default: // half-open, a probe is outstanding
		if now.Sub(b.probedAt) < b.params.Cooldown {
			return false
		}
		b.probedAt = now
		return true
	}
}

// Success closes the breaker and forgets the failure run.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

// Failure records one failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock()
	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = now
		return
	}
	if b.failures == 0 || now.Sub(b.windowStart) > b.params.Window {
		b.failures = 0
		b.windowStart = now
	}
	b.failures++
	if b.failures >= b.params.Threshold {
		b.state = breakerOpen
		b.openedAt = now
	}
}

// Open reports whether the breaker currently short-circuits calls. Once the
// cooldown elapses it reads as closed again so that the degradation level
// recovers and the probe can actually run.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && b.clock().Sub(b.openedAt) < b.params.Cooldown
}
