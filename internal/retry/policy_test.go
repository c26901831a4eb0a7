package retry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bozzfozz/harmony/internal/retry"
)

// fixedJitter always returns the same signed value, isolating the backoff
// curve from the jitter contract in tests that only care about one or the
// other.
type fixedJitter struct{ v float64 }

func (f fixedJitter) Signed() float64 { return f.v }

func TestNext_ExhaustedAtMaxAttempts(t *testing.T) {
	p := retry.Profile{BaseDelay: time.Second, MaxDelay: time.Minute, JitterPct: 0, MaxAttempts: 3}
	d := retry.Next(p, 3, fixedJitter{})
	require.True(t, d.Exhausted)

	d = retry.Next(p, 4, fixedJitter{})
	require.True(t, d.Exhausted)
}

func TestNext_ExponentialBackoffNoJitter(t *testing.T) {
	p := retry.Profile{BaseDelay: 2 * time.Second, MaxDelay: 128 * time.Second, JitterPct: 0, MaxAttempts: 10}

	d := retry.Next(p, 1, fixedJitter{})
	require.Equal(t, 2*time.Second, d.Delay)

	d = retry.Next(p, 2, fixedJitter{})
	require.Equal(t, 4*time.Second, d.Delay)

	d = retry.Next(p, 3, fixedJitter{})
	require.Equal(t, 8*time.Second, d.Delay)
}

func TestNext_ClampsToMaxDelay(t *testing.T) {
	p := retry.Profile{BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, JitterPct: 0, MaxAttempts: 10}
	d := retry.Next(p, 6, fixedJitter{})
	require.Equal(t, 10*time.Second, d.Delay)
}

func TestNext_JitterPctOver1IsPercentage(t *testing.T) {
	withFraction := retry.Profile{BaseDelay: 10 * time.Second, MaxDelay: time.Minute, JitterPct: 0.5, MaxAttempts: 10}
	withPercent := retry.Profile{BaseDelay: 10 * time.Second, MaxDelay: time.Minute, JitterPct: 50, MaxAttempts: 10}

	dFraction := retry.Next(withFraction, 1, fixedJitter{v: 1})
	dPercent := retry.Next(withPercent, 1, fixedJitter{v: 1})
	require.Equal(t, dFraction.Delay, dPercent.Delay)
}

func TestNext_SignedJitterBothDirections(t *testing.T) {
	p := retry.Profile{BaseDelay: 10 * time.Second, MaxDelay: time.Minute, JitterPct: 0.5, MaxAttempts: 10}

	high := retry.Next(p, 1, fixedJitter{v: 1})
	require.Equal(t, 15*time.Second, high.Delay)

	low := retry.Next(p, 1, fixedJitter{v: -1})
	require.Equal(t, 5*time.Second, low.Delay)
}

func TestNext_DelayNeverNegative(t *testing.T) {
	p := retry.Profile{BaseDelay: time.Second, MaxDelay: time.Minute, JitterPct: 2.0, MaxAttempts: 10}
	d := retry.Next(p, 1, fixedJitter{v: -1})
	require.GreaterOrEqual(t, d.Delay, time.Duration(0))
}

func TestNamedProfiles(t *testing.T) {
	download := retry.DownloadSyncProfile()
	require.Equal(t, 6, download.MaxAttempts)

	watchlist := retry.WatchlistArtistProfile()
	require.Greater(t, watchlist.MaxAttempts, download.MaxAttempts)
	require.Less(t, watchlist.BaseDelay, download.MaxDelay)
}
