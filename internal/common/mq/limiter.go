package mq

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrNoSlot is returned when no slot frees up within the wait window.
var ErrNoSlot = errors.New("no free slot")

// TokenLimiter is a fixed pool of slots. Kafka fetch loops use it as a
// FetchLimiter; the judge worker uses the same pool for its run slots.
type TokenLimiter struct {
	slots    chan struct{}
	inFlight atomic.Int64
}

// NewTokenLimiter creates a pool with size slots (at least one).
func NewTokenLimiter(size int) *TokenLimiter {
	if size <= 0 {
		size = 1
	}
	return &TokenLimiter{slots: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx ends.
func (l *TokenLimiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		l.inFlight.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireWithin waits at most wait for a slot. A non-positive wait only
// tries once.
func (l *TokenLimiter) AcquireWithin(ctx context.Context, wait time.Duration) error {
	if l.TryAcquire() {
		return nil
	}
	if wait <= 0 {
		return ErrNoSlot
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l.slots <- struct{}{}:
		l.inFlight.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrNoSlot
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *TokenLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.inFlight.Add(1)
		return true
	default:
		return false
	}
}

// Release frees a slot. Extra releases are ignored.
func (l *TokenLimiter) Release() {
	select {
	case <-l.slots:
		l.inFlight.Add(-1)
	default:
	}
}

// InFlight reports how many slots are taken.
func (l *TokenLimiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Capacity reports the pool size.
func (l *TokenLimiter) Capacity() int {
	return cap(l.slots)
}
