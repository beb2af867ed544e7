package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// RetryPolicy shapes the delays between attempts. Jitter is the fraction of
// each delay that is randomized in both directions.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// BrokerRetry paces reconnections to RabbitMQ.
var BrokerRetry = RetryPolicy{Initial: time.Second, Max: time.Minute, Factor: 2, Jitter: 0.2}

// SyncRetry paces sync cycles after a failure. The delay never exceeds the
// regular poll interval, so a failing server is not polled less often than a
// healthy one.
func SyncRetry(interval time.Duration) RetryPolicy {
	return RetryPolicy{Initial: min(time.Second, interval), Max: interval, Factor: 2, Jitter: 0.2}
}

// Backoff hands out growing delays for one retry loop. It is safe for
// concurrent use.
type Backoff struct {
	mu       sync.Mutex
	policy   RetryPolicy
	current  time.Duration
	attempts int
}

func NewBackoff(p RetryPolicy) *Backoff {
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return &Backoff{policy: p, current: p.Initial}
}

// Next returns the delay before the next attempt and grows the following one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	wait := b.current
	if j := b.policy.Jitter; j > 0 {
		wait += time.Duration((rand.Float64()*2 - 1) * j * float64(b.current))
	}
	wait = max(wait, b.policy.Initial)

	b.current = min(time.Duration(float64(b.current)*b.policy.Factor), b.policy.Max)
	return wait
}

// Reset starts over after a successful attempt.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.policy.Initial
	b.attempts = 0
}

// Attempts counts the failures since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
