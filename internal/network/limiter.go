package network

import (
	"context"
	"sync"
	"time"
)

// limiterPollInterval is how often a blocked sender re-checks the budget.
const limiterPollInterval = 20 * time.Millisecond

// tokenBucket is a standard refill bucket in bytes.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	ratePerSec float64
	lastRefill time.Time
}

func newTokenBucket(ratePerSec, burst float64) *tokenBucket {
	return &tokenBucket{
		tokens:     burst,
		burst:      burst,
		ratePerSec: ratePerSec,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) tryConsume(size int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.ratePerSec
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = now

	if b.tokens < float64(size) {
		return false
	}
	b.tokens -= float64(size)
	return true
}

// OutboundLimiter is the shared outbound bandwidth budget, split into
// traffic classes so bootstrap streaming cannot starve gossip.
type OutboundLimiter struct {
	generic   *tokenBucket
	bootstrap *tokenBucket
}

// NewOutboundLimiter creates a limiter. limitBytesPerSec of zero disables
// limiting entirely.
func NewOutboundLimiter(limitBytesPerSec int, burstRatio float64) *OutboundLimiter {
	if limitBytesPerSec <= 0 {
		return nil
	}
	if burstRatio < 1 {
		burstRatio = 1
	}
	rate := float64(limitBytesPerSec)
	return &OutboundLimiter{
		generic:   newTokenBucket(rate, rate*burstRatio),
		bootstrap: newTokenBucket(rate/2, rate*burstRatio/2),
	}
}

func (l *OutboundLimiter) bucket(traffic TrafficType) *tokenBucket {
	if traffic == TrafficBootstrap {
		return l.bootstrap
	}
	return l.generic
}

// ShouldPass reports whether the class budget admits size bytes now,
// consuming them if so.
func (l *OutboundLimiter) ShouldPass(size int, traffic TrafficType) bool {
	if l == nil {
		return true
	}
	return l.bucket(traffic).tryConsume(size)
}

// WaitUntilAllowed polls the budget until it admits size bytes or the
// context is cancelled. This is the only blocking wait on the send path.
func (l *OutboundLimiter) WaitUntilAllowed(ctx context.Context, size int, traffic TrafficType) error {
	if l == nil {
		return nil
	}
	bucket := l.bucket(traffic)
	for {
		if bucket.tryConsume(size) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(limiterPollInterval):
		}
	}
}
