package session

import (
	"time"
)

// slidingWindow is a bucketed counter over a rolling time period, used for
// burst detection. It is a trimmed-down sibling of a rate limiter's sliding
// window: values land in fixed-granularity buckets and buckets older than
// the window are pruned on every access.
//
// Instances are confined to a single lane goroutine, so no locking is
// needed.
type slidingWindow struct {
	window     time.Duration
	bucketSize time.Duration
	buckets    []windowBucket
}

// windowBucket is a single time-stamped counter bucket.
type windowBucket struct {
	timestamp time.Time
	value     int
}

// newSlidingWindow creates a sliding window counter. The number of buckets
// is window/bucketSize, minimum one.
func newSlidingWindow(window, bucketSize time.Duration) *slidingWindow {
	n := int(window / bucketSize)
	if n == 0 {
		n = 1
	}
	return &slidingWindow{
		window:     window,
		bucketSize: bucketSize,
		buckets:    make([]windowBucket, n),
	}
}

// Add increments the bucket for the given time.
func (sw *slidingWindow) Add(now time.Time) {
	sw.prune(now)

	slot := sw.slotFor(now)
	truncated := now.Truncate(sw.bucketSize)
	if !sw.buckets[slot].timestamp.Equal(truncated) {
		sw.buckets[slot] = windowBucket{timestamp: truncated}
	}
	sw.buckets[slot].value++
}

// Sum returns the total count across all live buckets.
func (sw *slidingWindow) Sum(now time.Time) int {
	sw.prune(now)

	var sum int
	for i := range sw.buckets {
		if !sw.buckets[i].timestamp.IsZero() {
			sum += sw.buckets[i].value
		}
	}
	return sum
}

// prune clears buckets that fell out of the window.
func (sw *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.window)
	for i := range sw.buckets {
		if !sw.buckets[i].timestamp.IsZero() && sw.buckets[i].timestamp.Before(cutoff) {
			sw.buckets[i] = windowBucket{}
		}
	}
}

// slotFor maps a time onto its circular bucket index.
func (sw *slidingWindow) slotFor(t time.Time) int {
	return int(t.UnixNano()/int64(sw.bucketSize)) % len(sw.buckets)
}
