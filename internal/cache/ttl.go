package cache

import "time"

// TTLPolicy assigns a TTL by result-set size class. Large result sets get a
// shorter TTL because collections with many rows change more often, so
// staleness must stay bounded; single-record lookups change rarely and are
// read often, so they keep the longest TTL. The thresholds are
// configuration, not constants.
type TTLPolicy struct {
	// ItemTTL applies to single-record lookups.
	ItemTTL time.Duration
	// SmallSetTTL applies to result sets below SmallThreshold items.
	SmallSetTTL time.Duration
	// MediumSetTTL applies to result sets between the thresholds.
	MediumSetTTL time.Duration
	// LargeSetTTL applies to result sets above LargeThreshold items.
	LargeSetTTL time.Duration

	SmallThreshold int
	LargeThreshold int
}

// DefaultTTLPolicy mirrors the documented size classes: >100 items short,
// 50-100 medium, <50 long, single record longest.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		ItemTTL:        30 * time.Minute,
		SmallSetTTL:    15 * time.Minute,
		MediumSetTTL:   5 * time.Minute,
		LargeSetTTL:    1 * time.Minute,
		SmallThreshold: 50,
		LargeThreshold: 100,
	}
}

// ForResultSize returns the TTL for a list result of n records.
func (p TTLPolicy) ForResultSize(n int) time.Duration {
	switch {
	case n > p.LargeThreshold:
		return p.LargeSetTTL
	case n >= p.SmallThreshold:
		return p.MediumSetTTL
	default:
		return p.SmallSetTTL
	}
}
