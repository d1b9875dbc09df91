package multiplex

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// NewTimerFD creates a timerfd on the monotonic clock. The returned fd is
// disarmed; use Arm to start it. Granularity is milliseconds; period
// semantics is interval, not absolute deadline.
func NewTimerFD() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("create timerfd: %w", err)
	}
	return fd, nil
}

// Arm (re)arms fd to first fire after initial, then repeat every
// interval. A zero interval arms a one-shot timer — used by the shared
// keep-alive wake-up timer, which is re-armed after every reap and every
// wake-handler invocation rather than left to free-run on a fixed period.
func Arm(fd int, initial, interval time.Duration) error {
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(initial.Nanoseconds()),
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("arm timerfd %d: %w", fd, err)
	}
	return nil
}

// Disarm stops fd from firing. Called when there is no job left whose
// schedule needs a wake-up.
func Disarm(fd int) error {
	var spec unix.ItimerSpec
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("disarm timerfd %d: %w", fd, err)
	}
	return nil
}

// resolveTimer drains the 8-byte expiration counter timerfd delivers on
// each readable wakeup.
func resolveTimer(fd int, tag any) (Event, error) {
	var count uint64
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&count)), 8)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return Event{}, fmt.Errorf("read timerfd expirations: %w", err)
	}
	if n < 8 {
		return Event{}, fmt.Errorf("short timerfd read: %d bytes", n)
	}
	return Event{Kind: Timer, Tag: tag, Data: int64(count)}, nil
}
