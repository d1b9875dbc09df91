// Package daemon wires the event multiplexer, job state machine, and
// control-plane socket together into the single-threaded main loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tjper/jobd/internal/fsnotify"
	"github.com/tjper/jobd/internal/ipc"
	"github.com/tjper/jobd/internal/jobd"
	"github.com/tjper/jobd/internal/log"
	"github.com/tjper/jobd/internal/multiplex"
	"github.com/tjper/jobd/internal/paths"

	"golang.org/x/sys/unix"
)

var logger = log.New(os.Stdout, "daemon")

// ErrInterrupted is returned by Run when it stops because of SIGINT,
// after unloading every job. Callers exit 1 in this case, matching the
// signal dispatch contract (TERM exits 0 without unloading; INT exits 1
// after unloading).
var ErrInterrupted = errors.New("interrupted")

type sigTag struct{}
type procExitTag struct{}
type vnodeTag struct{}

// Run builds a Machine and drives its main loop until a fatal error, a
// TERM (clean exit), or an INT (unload everything, then exit). It blocks
// until ctx is done or one of those conditions occurs.
func Run(ctx context.Context, opts Options) error {
	q, err := multiplex.New()
	if err != nil {
		return fmt.Errorf("create event queue: %w", err)
	}
	defer q.Close()

	machine, err := jobd.NewMachine(q)
	if err != nil {
		return fmt.Errorf("create state machine: %w", err)
	}
	control := jobd.NewControl(machine)

	sigfd, err := multiplex.NewSignalFD(unix.SIGHUP, unix.SIGUSR1, unix.SIGINT, unix.SIGTERM, unix.SIGCHLD)
	if err != nil {
		return fmt.Errorf("create signalfd: %w", err)
	}
	if err := q.Add(sigfd, multiplex.Signal, sigTag{}); err != nil {
		return fmt.Errorf("register signalfd: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create manifest directory watcher: %w", err)
	}
	defer watcher.Close()
	if _, err := watcher.AddWatch(paths.ManifestDir()); err != nil {
		return fmt.Errorf("watch manifest directory: %w", err)
	}
	go forwardVnodeEvents(watcher, q)

	listener, err := ipc.Listen(opts.SocketPath, q)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	defer listener.Close()

	if err := writePidFile(); err != nil {
		return err
	}
	defer removePidFile()

	for _, err := range machine.Scan() {
		logger.Warnf("startup scan; error: %s", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := q.Wait()
		if err != nil {
			return fmt.Errorf("wait for event: %w", err)
		}

		switch ev.Kind {
		case multiplex.Signal:
			exit, err := handleSignal(machine, int(ev.Ident), q)
			if exit {
				return err
			}
			if err != nil {
				logger.Warnf("signal dispatch; error: %s", err)
			}

		case multiplex.ProcExit:
			if err := machine.HandleProcExit(ev, time.Now()); err != nil {
				logger.Warnf("reap; error: %s", err)
			}

		case multiplex.Timer:
			if tag, ok := ev.Tag.(jobd.TimerTag); ok {
				if err := machine.HandleTimerEvent(tag, time.Now()); err != nil {
					logger.Warnf("timer dispatch; label: %s, error: %s", tag.Label, err)
				}
			}

		case multiplex.Read:
			if ce, ok := ev.Tag.(*ipc.ControlEvent); ok {
				ce.Respond(ipc.Dispatch(control, ce.Request))
			}

		case multiplex.Vnode:
			for _, err := range machine.Scan() {
				logger.Warnf("rescan on manifest directory change; error: %s", err)
			}
		}
	}
}

// forwardVnodeEvents drains watcher's Events channel and posts each one
// onto q as a VNODE event, fanning the manifest directory watcher into
// the same stream every other event source publishes to. It returns
// once watcher.Events is closed, which happens on watcher.Close.
func forwardVnodeEvents(watcher *fsnotify.Watcher, q *multiplex.Queue) {
	for range watcher.Events {
		q.Post(multiplex.Event{Kind: multiplex.Vnode, Tag: vnodeTag{}})
	}
}

// handleSignal dispatches one received signal. The bool return reports
// whether the main loop should stop; when it is true, err is Run's
// return value.
func handleSignal(machine *jobd.Machine, signo int, q *multiplex.Queue) (bool, error) {
	switch unix.Signal(signo) {
	case unix.SIGHUP:
		for _, err := range machine.Scan() {
			logger.Warnf("rescan; error: %s", err)
		}
		return false, nil

	case unix.SIGUSR1:
		return false, writeStatusDump(machine.Registry().Iterate())

	case unix.SIGINT:
		for _, j := range machine.Registry().Iterate() {
			if err := machine.Unload(j.Label); err != nil {
				logger.Warnf("unload on interrupt; label: %s, error: %s", j.Label, err)
			}
		}
		return true, ErrInterrupted

	case unix.SIGTERM:
		return true, nil

	case unix.SIGCHLD:
		// ReapChildren posts one PROC_EXIT event per reaped pid onto q,
		// which only the main-loop goroutine drains via q.Wait — calling
		// it synchronously from here would deadlock the first time any
		// child exits, since this goroutine can't reach Wait until
		// ReapChildren returns. Run it from a background goroutine, the
		// same way forwardVnodeEvents and ipc.Listener.serve post.
		go q.ReapChildren(procExitTag{})
		return false, nil

	default:
		return false, nil
	}
}
