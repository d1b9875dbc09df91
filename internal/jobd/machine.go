package jobd

import (
	"errors"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/tjper/jobd/internal/log"
	"github.com/tjper/jobd/internal/multiplex"

	"golang.org/x/sys/unix"
)

// killGracePeriod is how long Unload waits after SIGTERM before escalating
// to SIGKILL.
const killGracePeriod = 5 * time.Second

// TimerPurpose distinguishes the three reasons Machine arms a per-job
// timerfd, so the main loop's dispatcher knows which handler to call
// without inspecting job state itself.
type TimerPurpose int

const (
	TimerPeriodic TimerPurpose = iota
	TimerCalendar
	TimerKillGrace
	TimerKeepAlive
)

// TimerTag is the tag a per-job timerfd is registered with on the
// multiplexer.
type TimerTag struct {
	Label   string
	Purpose TimerPurpose
}

var logger = log.New(os.Stdout, "jobd")

// Machine is the job state machine: it owns a Registry, Persistence, and
// Supervisor, and drives every transition a Job can make. All methods
// must be called from the main-loop goroutine; Machine keeps no locks of
// its own.
type Machine struct {
	registry    *Registry
	persistence *Persistence
	supervisor  *Supervisor
	queue       *multiplex.Queue
	keepAlive   *KeepAliveTimer

	calendars  map[string]CalendarSchedule
	timers     map[string]int
	killTimers map[string]int
}

// NewMachine wires a Machine to an event queue, creating its shared
// keep-alive timer and registering it with the queue.
func NewMachine(q *multiplex.Queue) (*Machine, error) {
	persistence := NewPersistence()
	if err := persistence.EnsureDirs(); err != nil {
		return nil, err
	}

	keepAlive, err := NewKeepAliveTimer()
	if err != nil {
		return nil, err
	}
	if err := q.Add(keepAlive.Fd(), multiplex.Timer, TimerTag{Purpose: TimerKeepAlive}); err != nil {
		return nil, err
	}

	m := &Machine{
		registry:    NewRegistry(),
		persistence: persistence,
		supervisor:  NewSupervisor(),
		queue:       q,
		keepAlive:   keepAlive,
		calendars:   make(map[string]CalendarSchedule),
		timers:      make(map[string]int),
		killTimers:  make(map[string]int),
	}
	return m, nil
}

// KeepAliveFd reports the shared keep-alive timer's fd, so the daemon can
// recognize its TIMER events apart from per-job ones.
func (m *Machine) KeepAliveFd() int {
	return m.keepAlive.Fd()
}

// Registry exposes the underlying Registry for read-only operations
// (status, list) that don't belong on Machine itself.
func (m *Machine) Registry() *Registry {
	return m.registry
}

// Scan reads every manifest in manifestDir and attempts to define and
// load each one. A label collision with an already-registered job is logged
// and skipped rather than aborting the rest of the scan. It is used both
// at startup and on a HUP rescan.
func (m *Machine) Scan() []error {
	manifests, errs := m.persistence.ScanManifests()
	for _, perr := range errs {
		logger.Warnf("scan manifest: %s", perr)
	}

	for _, man := range manifests {
		if _, err := m.DefineAndLoad(man); err != nil {
			var jerr *Error
			if errors.As(err, &jerr) && jerr.Kind == KindDuplicateLabel {
				logger.Warnf("scan: skip duplicate label %q", man.Label)
				continue
			}
			errs = append(errs, err)
		}
	}
	return errs
}

// DefineAndLoad persists manifest, inserts it into the registry, loads
// it, and runs it immediately if it is runnable. This is the full effect
// of the control plane's load RPC and of a manifest-directory scan.
//
// A label that already has a durable property record (a prior disable,
// or a fault left by a previous run) is restored from it rather than
// reseeded from the manifest: recovery after a crash or a HUP/VNODE
// rescan must not silently re-enable a disabled job or clear a fault
// just because its manifest was re-read.
func (m *Machine) DefineAndLoad(manifest *Manifest) (*Job, error) {
	if err := m.persistence.SaveManifest(manifest); err != nil {
		return nil, err
	}

	enabled := manifest.Enable
	var fault *Fault
	if m.persistence.PropertyExists(manifest.Label) {
		prop, err := m.persistence.LoadProperty(manifest.Label)
		if err != nil {
			return nil, err
		}
		enabled = prop.Enabled
		fault = prop.Fault
	}

	j, err := m.registry.Define(manifest, enabled)
	if err != nil {
		return nil, err
	}
	j.Fault = fault

	if err := m.Load(j.Label); err != nil {
		return j, err
	}
	if j.Runnable() {
		if err := m.Run(j.Label); err != nil {
			return j, err
		}
	}
	return j, nil
}

// Load validates the manifest's program, arms whatever schedule it
// declares, and marks the job LOADED.
func (m *Machine) Load(label string) error {
	j, err := m.registry.ByLabel(label)
	if err != nil {
		return err
	}
	if j.State != Defined {
		return newError(KindInvalidState, "load", label, errInvalidState)
	}

	if program, missing := programMissing(j.Manifest); missing {
		j.Fault = &Fault{Kind: FaultMissingProgram, Reason: "program " + strconv.Quote(program) + " does not exist"}
	}

	switch {
	case j.Manifest.StartInterval > 0:
		if err := m.armPeriodic(j); err != nil {
			return err
		}
		j.ScheduleKind = SchedulePeriodic
	case j.Manifest.StartCalendarInterval != nil:
		sched, err := NewCalendarSchedule(j.Manifest.StartCalendarInterval)
		if err != nil {
			return newError(KindParseError, "load", label, err)
		}
		m.calendars[label] = sched
		if err := m.armCalendar(j, sched, time.Now()); err != nil {
			return err
		}
		j.ScheduleKind = ScheduleCalendar
	case j.Manifest.KeepAlive:
		j.ScheduleKind = ScheduleKeepAlive
	default:
		j.ScheduleKind = ScheduleNone
	}

	j.State = Loaded
	return m.saveProperty(j)
}

// Run launches an explicitly-requested LOADED job. It fails with
// KindInvalidState if the job is not currently loaded and runnable.
func (m *Machine) Run(label string) error {
	j, err := m.registry.ByLabel(label)
	if err != nil {
		return err
	}
	if j.State != Loaded {
		return newError(KindInvalidState, "run", label, errInvalidState)
	}
	if !j.Runnable() {
		return newError(KindInvalidState, "run", label, errInvalidState)
	}
	return m.launch(j)
}

// launch is the fork/exec step shared by Run, a periodic/calendar timer
// fire, and a keep-alive wake-up: whichever transition leads here, the
// mechanics of starting the child and recording its pid are identical.
func (m *Machine) launch(j *Job) error {
	launched, err := m.supervisor.Start(j.Manifest)
	if err != nil {
		j.Fault = &Fault{Kind: FaultExecFailed, Reason: err.Error()}
		j.State = Loaded
		if saveErr := m.saveProperty(j); saveErr != nil {
			logger.Errorf("save property after exec failure; label: %s, error: %s", j.Label, saveErr)
		}
		return err
	}

	j.Pid = launched.Pid
	j.State = Running
	j.LastExitStatus = 0
	j.TermSignal = 0
	j.RestartAfter = time.Time{}
	return m.saveStatus(j)
}

// HandleProcExit reaps one PROC_EXIT event. A pid this machine does not
// recognize (KindNotFound) is silently ignored — it belongs to something
// this daemon never launched, or was already reaped.
func (m *Machine) HandleProcExit(ev multiplex.Event, now time.Time) error {
	exitStatus, termSignal := multiplex.ExitStatus(ev.Data)
	j, err := m.registry.ByPID(int(ev.Ident))
	if err != nil {
		return nil
	}
	return m.reap(j, exitStatus, termSignal, now)
}

// reap records a job's exit and applies the reschedule policy.
func (m *Machine) reap(j *Job, exitStatus, termSignal int, now time.Time) error {
	j.LastExitStatus = exitStatus
	j.TermSignal = termSignal
	j.Pid = 0
	return m.reschedule(j, now)
}

// reschedule is the reap policy: given a just-reaped job, decide its next
// state. Tie-break: when both StartInterval and KeepAlive are set, the
// periodic interval wins.
func (m *Machine) reschedule(j *Job, now time.Time) error {
	switch {
	case j.State == Killed:
		m.teardownTimers(j.Label)
		m.registry.Remove(j.Label)
		if err := m.persistence.DeleteManifest(j.Label); err != nil {
			return err
		}
		return m.persistence.DeleteStatus(j.Label)

	case !j.Enabled:
		j.State = Loaded

	case j.Manifest.StartInterval > 0:
		j.State = Waiting

	case j.Manifest.KeepAlive:
		j.State = Exited
		j.RestartAfter = now.Add(time.Duration(j.Manifest.ThrottleInterval) * time.Second)

	default:
		j.State = Loaded
		j.Fault = &Fault{Kind: FaultOffline, Reason: "the process exited unexpectedly"}
	}

	if err := m.saveStatus(j); err != nil {
		return err
	}
	if err := m.saveProperty(j); err != nil {
		return err
	}
	return m.keepAlive.Reschedule(m.registry.Iterate(), now)
}

// HandleTimerEvent dispatches a TIMER event to the handler its
// TimerTag.Purpose names.
func (m *Machine) HandleTimerEvent(tag TimerTag, now time.Time) error {
	switch tag.Purpose {
	case TimerKeepAlive:
		return m.WakeDue(now)
	case TimerKillGrace:
		return m.fireKillGrace(tag.Label)
	default:
		return m.fireTimer(tag.Label)
	}
}

// fireTimer handles a periodic or calendar timer firing for label.
// Periodic jobs do not overlap: a fire while RUNNING is simply dropped.
func (m *Machine) fireTimer(label string) error {
	j, err := m.registry.ByLabel(label)
	if err != nil {
		return nil
	}

	switch j.State {
	case Waiting:
		if err := m.launch(j); err != nil {
			return err
		}
	case Loaded:
		if j.Runnable() {
			if err := m.launch(j); err != nil {
				return err
			}
		}
	case Running:
		// dropped: periodic jobs do not overlap.
	}

	if sched, ok := m.calendars[label]; ok {
		return m.armCalendar(j, sched, time.Now())
	}
	return nil
}

// WakeDue is called when the shared keep-alive timer fires: every job
// whose restart_after has arrived is launched directly from EXITED to
// RUNNING, bypassing LOADED.
func (m *Machine) WakeDue(now time.Time) error {
	for _, j := range Due(m.registry.Iterate(), now) {
		if err := m.launch(j); err != nil {
			logger.Warnf("keep-alive relaunch; label: %s, error: %s", j.Label, err)
		}
	}
	return m.keepAlive.Reschedule(m.registry.Iterate(), now)
}

// Unload begins the unload path for label. A RUNNING job is sent SIGTERM
// and given killGracePeriod to exit before SIGKILL; anything else is torn
// down and removed immediately.
func (m *Machine) Unload(label string) error {
	j, err := m.registry.ByLabel(label)
	if err != nil {
		return err
	}

	switch j.State {
	case Running:
		if err := syscall.Kill(-j.Pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
			return newError(KindIO, "unload", label, err)
		}
		j.State = Killed
		j.killDeadline = time.Now().Add(killGracePeriod)
		return m.armKillGrace(j)

	case Loaded, Exited, Waiting:
		m.teardownTimers(label)
		m.registry.Remove(label)
		if err := m.persistence.DeleteManifest(label); err != nil {
			return err
		}
		return m.persistence.DeleteStatus(label)

	default:
		return newError(KindInvalidState, "unload", label, errInvalidState)
	}
}

// fireKillGrace escalates an unresponsive unload to SIGKILL.
func (m *Machine) fireKillGrace(label string) error {
	j, err := m.registry.ByLabel(label)
	if err != nil {
		return nil
	}
	if j.State != Killed {
		return nil
	}
	if j.Pid != 0 {
		if err := syscall.Kill(-j.Pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			return newError(KindIO, "kill_grace", label, err)
		}
	}
	return nil
}

// Enable sets a job's durable enabled flag. If the transition makes the
// job runnable, it is run immediately.
func (m *Machine) Enable(label string) error {
	j, err := m.registry.ByLabel(label)
	if err != nil {
		return err
	}
	j.Enabled = true
	if err := m.saveProperty(j); err != nil {
		return err
	}
	if j.State == Loaded && j.Runnable() {
		return m.launch(j)
	}
	return nil
}

// Disable clears a job's durable enabled flag. The job continues running
// until its next natural stop; Disable never kills it.
func (m *Machine) Disable(label string) error {
	j, err := m.registry.ByLabel(label)
	if err != nil {
		return err
	}
	j.Enabled = false
	return m.saveProperty(j)
}

// ClearFault clears a job's fault. If this makes the job runnable it is
// not run immediately — the next schedule tick or explicit Run handles
// it.
func (m *Machine) ClearFault(label string) error {
	j, err := m.registry.ByLabel(label)
	if err != nil {
		return err
	}
	j.Fault = nil
	return m.saveProperty(j)
}

// armPeriodic arms a fresh timerfd at StartInterval seconds, repeating.
func (m *Machine) armPeriodic(j *Job) error {
	fd, err := multiplex.NewTimerFD()
	if err != nil {
		return newError(KindIO, "load", j.Label, err)
	}
	period := time.Duration(j.Manifest.StartInterval) * time.Second
	if err := multiplex.Arm(fd, period, period); err != nil {
		return newError(KindIO, "load", j.Label, err)
	}
	if err := m.queue.Add(fd, multiplex.Timer, TimerTag{Label: j.Label, Purpose: TimerPeriodic}); err != nil {
		return newError(KindIO, "load", j.Label, err)
	}
	m.timers[j.Label] = fd
	return nil
}

// armCalendar arms (or re-arms, after a fire) a one-shot timerfd for
// sched's next occurrence after now.
func (m *Machine) armCalendar(j *Job, sched CalendarSchedule, now time.Time) error {
	next := sched.Next(now)

	fd, ok := m.timers[j.Label]
	if !ok {
		var err error
		fd, err = multiplex.NewTimerFD()
		if err != nil {
			return newError(KindIO, "load", j.Label, err)
		}
		if err := m.queue.Add(fd, multiplex.Timer, TimerTag{Label: j.Label, Purpose: TimerCalendar}); err != nil {
			return newError(KindIO, "load", j.Label, err)
		}
		m.timers[j.Label] = fd
	}

	return multiplex.Arm(fd, next.Sub(now), 0)
}

// armKillGrace arms a one-shot timer that escalates an unload to SIGKILL
// if the job has not exited within killGracePeriod.
func (m *Machine) armKillGrace(j *Job) error {
	fd, err := multiplex.NewTimerFD()
	if err != nil {
		return newError(KindIO, "unload", j.Label, err)
	}
	if err := multiplex.Arm(fd, killGracePeriod, 0); err != nil {
		return newError(KindIO, "unload", j.Label, err)
	}
	if err := m.queue.Add(fd, multiplex.Timer, TimerTag{Label: j.Label, Purpose: TimerKillGrace}); err != nil {
		return newError(KindIO, "unload", j.Label, err)
	}
	m.killTimers[j.Label] = fd
	return nil
}

// teardownTimers closes and deregisters every timerfd label owns, called
// when a job leaves the registry for good.
func (m *Machine) teardownTimers(label string) {
	if fd, ok := m.timers[label]; ok {
		m.queue.Remove(fd)
		unix.Close(fd)
		delete(m.timers, label)
	}
	if fd, ok := m.killTimers[label]; ok {
		m.queue.Remove(fd)
		unix.Close(fd)
		delete(m.killTimers, label)
	}
	delete(m.calendars, label)
}

func (m *Machine) saveProperty(j *Job) error {
	return m.persistence.EditProperty(j.Label, func(p *Property) {
		p.Enabled = j.Enabled
		p.Fault = j.Fault
	})
}

func (m *Machine) saveStatus(j *Job) error {
	return m.persistence.SaveStatus(j.Label, Status{
		Pid:            j.Pid,
		LastExitStatus: j.LastExitStatus,
		TermSignal:     j.TermSignal,
	})
}
