package rpc

import (
	"context"
	"sync"
	"time"
)

// RateGate is a process-wide token bucket applied to every outbound RPC
// call. When the bucket is empty, Wait suspends the caller until a token
// refills or the request deadline expires.
type RateGate struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64 // tokens per second
	burst  float64
}

// NewRateGate allows ratePerMin calls per minute with a burst of burst calls.
func NewRateGate(ratePerMin, burst int) *RateGate {
	if burst <= 0 {
		burst = 1
	}
	return &RateGate{
		tokens: float64(burst),
		last:   time.Now(),
		rate:   float64(ratePerMin) / 60.0,
		burst:  float64(burst),
	}
}

// Wait blocks until a token is available. It returns the context error if
// the deadline passes first, so a saturated gate cancels rather than queues.
func (g *RateGate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := time.Now()
		g.tokens += now.Sub(g.last).Seconds() * g.rate
		if g.tokens > g.burst {
			g.tokens = g.burst
		}
		g.last = now
		if g.tokens >= 1.0 {
			g.tokens--
			g.mu.Unlock()
			return nil
		}
		wait := time.Duration((1.0 - g.tokens) / g.rate * float64(time.Second))
		g.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
