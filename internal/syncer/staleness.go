package syncer

import "time"

// IsStale reports whether a sync is due. Threshold 0 disables scheduled syncs
// for that class (manual only); a zero lastSynced means never synced, which is
// always stale under a non-zero threshold.
func IsStale(lastSynced time.Time, threshold time.Duration, now time.Time) bool {
	if threshold <= 0 {
		return false
	}
	if lastSynced.IsZero() {
		return true
	}
	return now.Sub(lastSynced) > threshold
}
