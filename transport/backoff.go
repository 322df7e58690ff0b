package transport

import "time"

// BackoffPolicy computes the delay before reconnect attempt n (0-based).
type BackoffPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration

	// MaxAttempts is the number of reconnect attempts before giving up.
	// Zero means retry forever.
	MaxAttempts int
}

// DefaultBackoffPolicy matches spec.md §4.1 defaults: 1s initial, x2, 60s
// cap, 5 attempts.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:     time.Second,
		Multiplier:  2,
		Max:         60 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns min(max, initial * multiplier^attempt).
func (b BackoffPolicy) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt has used up the retry budget.
func (b BackoffPolicy) Exhausted(attempt int) bool {
	if b.MaxAttempts == 0 {
		return false
	}
	return attempt >= b.MaxAttempts
}
