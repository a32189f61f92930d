package work

import (
	"math/rand"
	"time"
)

// Policy is the retry behavior for one error kind.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration // initial backoff, doubled per attempt
	MaxBackoff  time.Duration
}

// RetryPolicies maps each error kind to its retry behavior. The fetcher
// consults the transient policy for in-pass download retries; the worker
// pool consults the table for the remaining kinds.
var RetryPolicies = map[ErrorKind]Policy{
	KindTransientNetwork: {MaxAttempts: 3, Backoff: time.Second, MaxBackoff: 30 * time.Second},
	KindDiskWrite:        {MaxAttempts: 2, Backoff: 250 * time.Millisecond, MaxBackoff: 250 * time.Millisecond},
}

// PolicyFor returns the policy for kind. Kinds absent from the table get a
// single attempt and no backoff.
func PolicyFor(kind ErrorKind) Policy {
	if p, ok := RetryPolicies[kind]; ok {
		return p
	}
	return Policy{MaxAttempts: 1}
}

// Retryable reports whether another attempt is allowed after attempt
// failures of this kind. attempt is 1-based.
func Retryable(kind ErrorKind, attempt int) bool {
	return attempt < PolicyFor(kind).MaxAttempts
}

// Delay returns how long to wait before the given attempt (2-based: the
// delay preceding attempt n follows failure n-1). Exponential with jitter
// between 0.5x and 1.5x, capped at MaxBackoff.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Backoff <= 0 || attempt < 2 {
		return p.Backoff
	}
	d := p.Backoff << uint(attempt-2)
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}
