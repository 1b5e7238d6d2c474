//go:build linux

package rtkit

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

func property(obj dbus.BusObject, name string) (any, error) {
	v, err := obj.GetProperty(interfaceName + "." + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return v.Value(), nil
}

// Ask RealtimeKit to move the calling OS thread to SCHED_RR at priority,
// clamped to the maximum the service allows.
//
// Must be called from a goroutine locked to its thread with runtime.LockOSThread.
func MakeCurrentThreadRealtime(priority uint32) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}

	obj := conn.Object(objectName, dbus.ObjectPath(objectPath))

	maxValue, err := property(obj, "MaxRealtimePriority")
	if err != nil {
		return err
	}
	maxPriority, _ := maxValue.(int32)
	prio, ok := clampPriority(priority, maxPriority)
	if !ok {
		return fmt.Errorf("realtime scheduling not permitted (max priority %d)", maxPriority)
	}

	rttime := uint64(defaultRTTime)
	if rttimeValue, err := property(obj, "RTTimeUSecMax"); err == nil {
		maxRTTime, _ := rttimeValue.(int64)
		rttime = clampRTTime(rttime, maxRTTime)
	}
	limit := unix.Rlimit{Cur: rttime, Max: rttime}
	if err := unix.Setrlimit(unix.RLIMIT_RTTIME, &limit); err != nil {
		return fmt.Errorf("failed to set RLIMIT_RTTIME: %w", err)
	}

	tid := unix.Gettid()
	call := obj.Call(interfaceName+".MakeThreadRealtime", 0, uint64(tid), prio)
	if call.Err != nil {
		return fmt.Errorf("MakeThreadRealtime: %w", call.Err)
	}

	slog.Debug("thread is realtime", "tid", tid, "priority", prio, "rttime", rttime)
	return nil
}
