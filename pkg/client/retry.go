package client

import (
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy governs how idempotent reads are retried. Writes are never
// retried since the daemon mutates session state on them.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
	Jitter     float64 // fraction of the delay, 0 to 1
}

// DefaultRetryPolicy retries three times starting at 100ms, doubling up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Base:       100 * time.Millisecond,
		Max:        5 * time.Second,
		Jitter:     0.2,
	}
}

// Delay returns the pause before retry n, counting from 1. A positive
// retryAfter from the server replaces the computed delay. Either way the
// result never exceeds Max.
func (p RetryPolicy) Delay(n int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, p.Max)
	}
	if n < 1 {
		n = 1
	}

	delay := p.Base
	for i := 1; i < n && delay < p.Max; i++ {
		delay *= 2
	}
	delay = min(delay, p.Max)

	if p.Jitter > 0 {
		delay += time.Duration(float64(delay) * (rand.Float64()*2 - 1) * p.Jitter)
	}
	return max(delay, 0)
}

// Retryable reports whether a reply with this status is worth another
// attempt: the daemon is overloaded or a proxy in front of it is.
func (p RetryPolicy) Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter parses a Retry-After header given either as seconds or as an
// HTTP date. Anything unparsable yields zero.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(at.Sub(now), 0)
	}
	return 0
}
