package jobd

import (
	"time"

	"github.com/tjper/jobd/internal/multiplex"
)

// KeepAliveTimer is the single shared timerfd backing every job's
// restart-after wake-up. Rather than one timer per keep-alive job, the
// daemon keeps one timer armed for the earliest pending RestartAfter
// across the whole registry, and re-arms it after every reap and every
// wake-handler invocation.
type KeepAliveTimer struct {
	fd int
}

// NewKeepAliveTimer creates a disarmed KeepAliveTimer.
func NewKeepAliveTimer() (*KeepAliveTimer, error) {
	fd, err := multiplex.NewTimerFD()
	if err != nil {
		return nil, err
	}
	return &KeepAliveTimer{fd: fd}, nil
}

// Fd returns the underlying timerfd, for registration with a
// multiplex.Queue.
func (k *KeepAliveTimer) Fd() int {
	return k.fd
}

// minRearmDelay floors the shared timer's next arm delay only when the
// computed delay is zero or negative — the wall clock went backwards
// since RestartAfter was set. A legitimately short ThrottleInterval (the
// manifest's, not the 10s default) must arm at its configured delay, not
// get clamped up to it.
const minRearmDelay = time.Second

// Reschedule recomputes the earliest pending wake-up across jobs and
// re-arms (or disarms) the shared timer accordingly. It must be called
// after every state transition that sets or clears a Job's RestartAfter.
func (k *KeepAliveTimer) Reschedule(jobs []*Job, now time.Time) error {
	next, ok := earliestRestart(jobs)
	if !ok {
		return multiplex.Disarm(k.fd)
	}

	delay := next.Sub(now)
	if delay <= 0 {
		delay = minRearmDelay
	}
	return multiplex.Arm(k.fd, delay, 0)
}

// Due returns every job whose RestartAfter has arrived at or before now
// and is still waiting to be relaunched.
func Due(jobs []*Job, now time.Time) []*Job {
	var due []*Job
	for _, j := range jobs {
		if j.State != Exited {
			continue
		}
		if j.RestartAfter.IsZero() || j.RestartAfter.After(now) {
			continue
		}
		due = append(due, j)
	}
	return due
}

// earliestRestart finds the soonest RestartAfter among jobs currently
// waiting to be relaunched after a keep-alive exit.
func earliestRestart(jobs []*Job) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, j := range jobs {
		if j.State != Exited || j.RestartAfter.IsZero() {
			continue
		}
		if !found || j.RestartAfter.Before(earliest) {
			earliest = j.RestartAfter
			found = true
		}
	}
	return earliest, found
}
