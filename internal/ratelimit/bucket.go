package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Bucket is a token bucket denominated in bytes. A nil Bucket never
// throttles, so callers can pass one through unconditionally.
type Bucket struct {
	mu         sync.Mutex
	rate       float64 // bytes per second
	capacity   float64
	available  float64
	lastRefill time.Time
	now        func() time.Time
}

// NewBucket returns a bucket refilling at rate bytes/second with a burst
// capacity of one second's budget. A rate of zero or less disables
// throttling by returning nil.
func NewBucket(rate int64) *Bucket {
	if rate <= 0 {
		return nil
	}
	return &Bucket{
		rate:       float64(rate),
		capacity:   float64(rate),
		available:  float64(rate),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Rate returns the configured bytes/second budget, zero for an unthrottled
// bucket.
func (b *Bucket) Rate() int64 {
	if b == nil {
		return 0
	}
	return int64(b.rate)
}

// Take blocks until n bytes of budget are available or ctx is done. Requests
// larger than the burst capacity are satisfied in capacity-sized slices so a
// big segment cannot starve the other workers.
func (b *Bucket) Take(ctx context.Context, n int) error {
	if b == nil || n <= 0 {
		return nil
	}
	remaining := float64(n)
	for remaining > 0 {
		slice := remaining
		if slice > b.capacity {
			slice = b.capacity
		}
		if err := b.takeSlice(ctx, slice); err != nil {
			return err
		}
		remaining -= slice
	}
	return nil
}

func (b *Bucket) takeSlice(ctx context.Context, n float64) error {
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.available >= n {
			b.available -= n
			b.mu.Unlock()
			return nil
		}
		deficit := n - b.available
		wait := time.Duration(deficit / b.rate * float64(time.Second))
		b.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.available += elapsed * b.rate
	if b.available > b.capacity {
		b.available = b.capacity
	}
	b.lastRefill = now
}

// String describes the bucket for logs.
func (b *Bucket) String() string {
	if b == nil {
		return "ratelimit(off)"
	}
	return fmt.Sprintf("ratelimit(%d B/s)", int64(b.rate))
}
