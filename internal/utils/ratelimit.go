package utils

import (
	"sync/atomic"
	"time"
)

// Report whether a rate-limited event may be logged now.
//
// last holds the UnixNano time of the previous accepted event and is updated on success,
// so at most one caller per period gets true. A nil last or non-positive period always logs.
func ShouldLog(last *atomic.Int64, period time.Duration) bool {
	if last == nil || period <= 0 {
		return true
	}

	now := time.Now().UnixNano()
	for {
		prev := last.Load()
		if prev != 0 && time.Duration(now-prev) < period {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}
