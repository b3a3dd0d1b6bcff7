package security

import "time"

// DefaultClockSkewGracePeriod is tolerated past an expiry before an artifact
// is treated as expired. It absorbs NTP drift between replicas sharing a store.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpiredAt reports whether expiresAt lies more than grace before now.
// A zero expiresAt never expires.
func IsExpiredAt(now, expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(grace))
}

// RemainingSeconds returns the whole seconds left until expiresAt, never negative.
func RemainingSeconds(now, expiresAt time.Time) int64 {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}
