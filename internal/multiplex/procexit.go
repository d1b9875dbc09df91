package multiplex

import (
	"golang.org/x/sys/unix"
)

// ReapChildren drains every zombie child that is ready to be reaped and
// posts a PROC_EXIT event for each onto q. It is called once per
// delivered SIGCHLD: process exits become, ultimately, a
// SIGCHLD-then-waitpid loop. Because waitpid(WNOHANG) on an already-reaped
// pid simply finds nothing left to reap, calling ReapChildren more than
// once for the same exit is harmless, so SIGCHLD and PROC_EXIT reaping
// stay idempotent.
func (q *Queue) ReapChildren(tag any) {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		data := int64(status)
		q.Post(Event{Kind: ProcExit, Tag: tag, Ident: uint64(pid), Data: data})
	}
}

// ExitStatus decodes the wait status multiplex packed into an Event's
// Data field, returning the exit code (or -1 if the process was
// terminated by a signal) and the terminating signal (0 if none),
// matching Job's last_exit_status / term_signal fields.
func ExitStatus(data int64) (exitStatus int, termSignal int) {
	status := unix.WaitStatus(data)
	if status.Signaled() {
		return -1, int(status.Signal())
	}
	return status.ExitStatus(), 0
}
