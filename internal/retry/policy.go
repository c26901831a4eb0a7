// Package retry implements the pure Retry Policy: given an attempt
// count and a profile, compute the next delay or report exhaustion. It holds
// no state and performs no I/O; callers own the clock and the jitter source.
package retry

import (
	"math"
	"time"

	"github.com/bozzfozz/harmony/internal/clock"
)

// Profile is an immutable retry/backoff configuration. Two named profiles
// coexist: download/sync work and watchlist/artist work.
type Profile struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterPct   float64
	MaxAttempts int
}

// DownloadSyncProfile favors a large base delay with a moderate attempt
// budget, matching the latency of a peer-to-peer transfer.
func DownloadSyncProfile() Profile {
	return Profile{
		BaseDelay:   2 * time.Second,
		MaxDelay:    128 * time.Second,
		JitterPct:   0.2,
		MaxAttempts: 6,
	}
}

// WatchlistArtistProfile favors a small base delay over a longer attempt
// span, matching a background artist re-scan.
func WatchlistArtistProfile() Profile {
	return Profile{
		BaseDelay:   30 * time.Second,
		MaxDelay:    30 * time.Minute,
		JitterPct:   0.3,
		MaxAttempts: 12,
	}
}

// normalizedJitterPct applies the package convention: values > 1.0 are percentages.
func (p Profile) normalizedJitterPct() float64 {
	if p.JitterPct > 1.0 {
		return p.JitterPct / 100
	}
	return p.JitterPct
}

// Decision is the outcome of evaluating a Profile against an attempt count.
type Decision struct {
	Exhausted bool
	Delay     time.Duration
}

// Jitter is the minimal random source this package depends on, satisfied by
// clock.Jitter. Signed returns a uniform value in [-1, 1).
type Jitter interface {
	Signed() float64
}

var _ Jitter = (*clock.Jitter)(nil)

// Next evaluates the policy for the given 1-based attempt number (the
// attempt about to be made, i.e. Job.Attempts after the failure being
// retried). attempt >= profile.MaxAttempts reports exhaustion.
func Next(profile Profile, attempt int, jitter Jitter) Decision {
	if attempt >= profile.MaxAttempts {
		return Decision{Exhausted: true}
	}

	base := profile.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	raw := float64(base) * math.Pow(2, float64(attempt-1))
	maxDelay := profile.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 128 * time.Second
	}
	if raw > float64(maxDelay) {
		raw = float64(maxDelay)
	}

	jitterPct := profile.normalizedJitterPct()
	factor := 1 + jitter.Signed()*jitterPct
	delay := raw * factor
	if delay < 0 {
		delay = 0
	}

	return Decision{Delay: time.Duration(delay)}
}
