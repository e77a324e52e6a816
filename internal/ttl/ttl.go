// Package ttl evaluates absolute expiry timestamps stored next to entries.
//
// A TTL is milliseconds since the Unix epoch. Entries without one never expire.
// Expiry is evaluated lazily by readers; nothing here runs in the background.
package ttl

import "time"

// IsExpired reports whether ttl lies in the past at the current wall clock
func IsExpired(ttl *int64) bool {
	return IsExpiredAt(ttl, time.Now())
}

// IsExpiredAt reports whether ttl lies strictly before now
func IsExpiredAt(ttl *int64, now time.Time) bool {
	if ttl == nil {
		return false
	}
	return now.UnixMilli() > *ttl
}

// ExpiresAt converts a relative duration into an absolute expiry.
// A non-positive duration yields an expiry one millisecond before now.
func ExpiresAt(d time.Duration, now time.Time) *int64 {
	at := now.UnixMilli() - 1
	if d > 0 {
		at = now.Add(d).UnixMilli()
	}
	return &at
}

// Remaining reports how long until ttl expires. It returns false for entries
// without a TTL and zero for expired ones.
func Remaining(ttl *int64, now time.Time) (time.Duration, bool) {
	if ttl == nil {
		return 0, false
	}
	left := time.UnixMilli(*ttl).Sub(now)
	if left < 0 {
		left = 0
	}
	return left, true
}

// Time converts ttl to a time.Time. The zero time is returned for nil.
func Time(ttl *int64) time.Time {
	if ttl == nil {
		return time.Time{}
	}
	return time.UnixMilli(*ttl)
}
