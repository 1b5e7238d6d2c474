package frame

import "time"

var clockOrigin = time.Now()

// Current monotonic time in nanoseconds.
//
// The origin is process start, so values are only comparable within one process.
func MonotonicNanos() uint64 {
	return uint64(time.Since(clockOrigin))
}

// Timestamp of the first sample of a chunk of frameCount frames that has just been captured,
// i.e. now back-dated by the duration of the chunk.
func CaptureTimestamp(now uint64, frameCount uint, sampleRate uint32) uint64 {
	d := uint64(FramesToDuration(frameCount, sampleRate))
	if d > now {
		return 0
	}
	return now - d
}
