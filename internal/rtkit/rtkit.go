// Realtime scheduling for audio threads through RealtimeKit, the D-Bus service
// desktop Linux systems use to hand out SCHED_RR to unprivileged processes.
package rtkit

import "errors"

const (
	objectName    = "org.freedesktop.RealtimeKit1"
	objectPath    = "/org/freedesktop/RealtimeKit1"
	interfaceName = "org.freedesktop.RealtimeKit1"

	// Priority requested for audio worker threads, clamped to what RealtimeKit allows.
	DefaultPriority uint32 = 10

	// CPU time a realtime thread may use without blocking before the kernel
	// sends SIGXCPU. RealtimeKit refuses processes without such a limit.
	defaultRTTime = 200_000 // microseconds
)

var ErrUnsupported = errors.New("realtime scheduling through RealtimeKit is not supported on this platform")

// Clamp the requested priority to the service maximum. A non-positive maximum disallows realtime entirely.
func clampPriority(requested uint32, maxPriority int32) (uint32, bool) {
	if maxPriority <= 0 {
		return 0, false
	}
	if requested == 0 {
		requested = 1
	}
	return min(requested, uint32(maxPriority)), true
}

// Clamp the RLIMIT_RTTIME to set to the service maximum.
func clampRTTime(requested uint64, maxRTTime int64) uint64 {
	if maxRTTime > 0 && requested > uint64(maxRTTime) {
		return uint64(maxRTTime)
	}
	return requested
}
