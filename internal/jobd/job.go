package jobd

import "time"

// State is a job's position in its lifecycle state machine. It is a
// tagged variant rather than a set of booleans so illegal combinations
// (e.g. RUNNING with pid == 0) are unrepresentable by construction.
type State int

const (
	// Defined is the initial state; a job with no loaded schedule or
	// runtime resources.
	Defined State = iota
	// Loaded indicates the job's schedule interests are registered but it
	// is not currently running.
	Loaded
	// Waiting indicates a periodic (StartInterval) job is between runs.
	Waiting
	// Running indicates the job has a live child process.
	Running
	// Killed indicates the job was unloaded while running and is waiting
	// to be reaped.
	Killed
	// Exited indicates a keep-alive job has stopped and may restart after
	// RestartAfter.
	Exited
)

func (s State) String() string {
	switch s {
	case Defined:
		return "DEFINED"
	case Loaded:
		return "LOADED"
	case Waiting:
		return "WAITING"
	case Running:
		return "RUNNING"
	case Killed:
		return "KILLED"
	case Exited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}

// ScheduleKind identifies which of the (mutually-independent) triggers a
// job is armed with.
type ScheduleKind int

const (
	ScheduleNone ScheduleKind = iota
	SchedulePeriodic
	ScheduleCalendar
	ScheduleKeepAlive
)

// FaultKind identifies why a job is stuck and will not auto-restart.
type FaultKind int

const (
	// FaultNone indicates the job has no fault. Job.Fault is nil in this
	// case; FaultNone only exists so FaultKind has an explicit zero value.
	FaultNone FaultKind = iota
	// FaultOffline indicates a process expected to run forever exited on
	// its own with no respawn policy.
	FaultOffline
	// FaultMissingProgram indicates the manifest's Program does not exist
	// on disk.
	FaultMissingProgram
	// FaultExecFailed indicates the fork/exec path itself failed.
	FaultExecFailed
)

func (k FaultKind) String() string {
	switch k {
	case FaultOffline:
		return "OFFLINE"
	case FaultMissingProgram:
		return "MISSING_PROGRAM"
	case FaultExecFailed:
		return "EXEC_FAILED"
	default:
		return "NONE"
	}
}

// Fault is a sticky condition preventing auto-launch until Clear is called.
type Fault struct {
	Kind   FaultKind
	Reason string
}

// Job is the mutable, registry-owned unit combining a Manifest and its
// runtime state. All fields are touched exclusively from the main-loop
// goroutine, so there is deliberately no mutex here (see DESIGN.md for
// the concurrency model this relies on).
type Job struct {
	Label    string
	Manifest *Manifest

	State State
	Pid   int

	LastExitStatus int
	TermSignal     int

	RestartAfter time.Time

	ScheduleKind ScheduleKind
	Enabled      bool
	Fault        *Fault

	// killDeadline is armed at the start of an unload and cleared on reap;
	// it is the moment a lingering TERM-ignoring child gets KILLed.
	killDeadline time.Time
}

// Runnable reports whether j is eligible to be launched right now:
// state is LOADED, the job is enabled, it carries no fault, and either
// RunAtLoad is set or it has some non-NONE schedule to wait on.
func (j *Job) Runnable() bool {
	return j.State == Loaded &&
		j.Enabled &&
		j.Fault == nil &&
		(j.Manifest.RunAtLoad || j.ScheduleKind != ScheduleNone)
}
