// Package multiplex implements one abstract readiness queue, fed by
// epoll, that produces a single ordered stream of tagged events covering
// reads/writes, Unix signals, timers, process exits, and filesystem
// (vnode) activity. The main loop (internal/daemon) has exactly one
// suspension point: a receive on Queue.Wait.
//
// Style is grounded on internal/fsnotify's direct use of
// golang.org/x/sys/unix and unsafe struct casts for talking to a Linux
// notification fd without a wrapper library, generalized here from
// inotify alone to epoll/signalfd/timerfd/SIGCHLD.
package multiplex

import (
	"fmt"
	"os"
	"sync"

	"github.com/tjper/jobd/internal/log"

	"golang.org/x/sys/unix"
)

// logger is an object for logging package events to stdout.
var logger = log.New(os.Stdout, "multiplex")

// Kind identifies the variety of event a Queue delivers.
type Kind int

const (
	Read Kind = iota
	Write
	Signal
	Timer
	ProcExit
	Vnode
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Signal:
		return "SIGNAL"
	case Timer:
		return "TIMER"
	case ProcExit:
		return "PROC_EXIT"
	case Vnode:
		return "VNODE"
	default:
		return "UNKNOWN"
	}
}

// Event is one item from the queue's stream. Tag is the opaque value the
// caller supplied at registration time for that interest. Ident and Data
// are kind-specific payload: Ident is a signal number, pid, or fd; Data
// carries a wait status or a timer expiration count where relevant.
type Event struct {
	Kind Kind
	Tag  any
	Ident uint64
	Data  int64
}

// interest is the bookkeeping the Queue keeps per registered fd.
type interest struct {
	kind Kind
	tag  any
}

// Queue is the concrete readiness queue. Registration (Add/Remove) is
// idempotent; Wait blocks until exactly one event is available.
type Queue struct {
	epfd int

	// interestsMu guards interests: Add/Remove are called from the
	// main-loop goroutine while loop (below) reads it concurrently from
	// its own goroutine on every epoll_wait wakeup.
	interestsMu sync.Mutex
	interests   map[int32]interest

	events chan Event
	errs   chan error
	done   chan struct{}
}

// New creates a Queue backed by a fresh epoll instance. Registration
// failures after this point are recoverable at runtime; failure to
// create the epoll instance itself is fatal at startup.
func New() (*Queue, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("create epoll instance: %w", err)
	}

	q := &Queue{
		epfd:      epfd,
		interests: make(map[int32]interest),
		events:    make(chan Event),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}

	go q.loop()
	return q, nil
}

// Add registers fd for readiness notification under kind, tagged with
// tag. Re-registering an already-added fd replaces its tag and kind
// (registration is idempotent).
func (q *Queue) Add(fd int, kind Kind, tag any) error {
	q.interestsMu.Lock()
	defer q.interestsMu.Unlock()

	events := uint32(unix.EPOLLIN)
	if kind == Write {
		events = unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if _, ok := q.interests[int32(fd)]; ok {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(q.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("register fd %d: %w", fd, err)
	}
	q.interests[int32(fd)] = interest{kind: kind, tag: tag}
	return nil
}

// Remove deregisters fd. Deregistering an fd that isn't registered
// silently succeeds.
func (q *Queue) Remove(fd int) error {
	q.interestsMu.Lock()
	defer q.interestsMu.Unlock()

	if _, ok := q.interests[int32(fd)]; !ok {
		return nil
	}
	delete(q.interests, int32(fd))
	if err := unix.EpollCtl(q.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("deregister fd %d: %w", fd, err)
	}
	return nil
}

// Post injects a synthetic event directly into the stream, bypassing
// epoll. This is how software-originated events reach the single
// stream: the SIGCHLD/waitpid reap loop (procexit.go) posts PROC_EXIT
// events, and the fsnotify-backed manifest directory watcher posts VNODE
// events, both fanning into the same channel the epoll loop publishes
// to.
func (q *Queue) Post(ev Event) {
	select {
	case q.events <- ev:
	case <-q.done:
	}
}

// Wait blocks for exactly one event — the daemon's only suspension
// point. A spurious wakeup with no events never reaches the caller;
// Wait either returns an event or an error.
func (q *Queue) Wait() (Event, error) {
	select {
	case ev := <-q.events:
		return ev, nil
	case err := <-q.errs:
		return Event{}, err
	}
}

// Close releases the epoll instance and stops the forwarding goroutine.
func (q *Queue) Close() error {
	close(q.done)
	return unix.Close(q.epfd)
}

// loop runs epoll_wait in a dedicated goroutine and forwards readiness
// into q.events, resolving signalfd/timerfd payloads inline so the
// caller only ever sees a fully-formed Event. This is the sole piece of
// concurrency multiplex introduces; it exists to fan epoll's
// syscall-level blocking together with the software-originated events
// Post delivers, not as a worker pool.
func (q *Queue) loop() {
	events := make([]unix.EpollEvent, 32)
	for {
		select {
		case <-q.done:
			return
		default:
		}

		n, err := unix.EpollWait(q.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			select {
			case q.errs <- fmt.Errorf("epoll_wait: %w", err):
			case <-q.done:
			}
			return
		}

		for i := 0; i < n; i++ {
			fd := events[i].Fd
			q.interestsMu.Lock()
			in, ok := q.interests[fd]
			q.interestsMu.Unlock()
			if !ok {
				continue // deregistered between epoll_wait and dispatch
			}

			ev, err := q.resolve(int(fd), in)
			if err != nil {
				logger.Warnf("resolve event; fd: %d, kind: %s, error: %s", fd, in.kind, err)
				continue
			}

			select {
			case q.events <- ev:
			case <-q.done:
				return
			}
		}
	}
}

// resolve turns a ready fd into a fully-formed Event, reading whatever
// kernel-specific payload that fd's kind requires.
func (q *Queue) resolve(fd int, in interest) (Event, error) {
	switch in.kind {
	case Signal:
		return resolveSignal(fd, in.tag)
	case Timer:
		return resolveTimer(fd, in.tag)
	default:
		return Event{Kind: in.kind, Tag: in.tag, Ident: uint64(fd)}, nil
	}
}
