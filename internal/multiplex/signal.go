package multiplex

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewSignalFD blocks delivery of sigs via the classical signal mask — so
// the kernel never delivers them through the classical signal path — and
// returns a file descriptor that becomes readable once any of sigs is
// pending. Registering a signal this way means the daemon only ever
// observes it through the queue, never through a signal handler.
func NewSignalFD(sigs ...unix.Signal) (int, error) {
	var set unix.Sigset_t
	for _, s := range sigs {
		sigaddset(&set, s)
	}

	if err := unix.SigprocmaskSigset(unix.SIG_BLOCK, &set); err != nil {
		return -1, fmt.Errorf("block signals for signalfd: %w", err)
	}

	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("create signalfd: %w", err)
	}
	return fd, nil
}

// resolveSignal reads one signalfd_siginfo record and reports which
// signal fired.
func resolveSignal(fd int, tag any) (Event, error) {
	var info unix.SignalfdSiginfo
	n, err := readStruct(fd, &info)
	if err != nil {
		return Event{}, fmt.Errorf("read signalfd_siginfo: %w", err)
	}
	if n < int(unix.SizeofSignalfdSiginfo) {
		return Event{}, fmt.Errorf("short signalfd_siginfo read: %d bytes", n)
	}
	return Event{Kind: Signal, Tag: tag, Ident: uint64(info.Signo)}, nil
}

// sigaddset sets signal s's bit in set. golang.org/x/sys/unix does not
// export a sigaddset helper, so this mirrors the libc macro directly —
// each Sigset_t word holds 64 bits (on Linux/amd64) numbered from
// signal 1.
func sigaddset(set *unix.Sigset_t, s unix.Signal) {
	word := (s - 1) / 64
	bit := uint64(1) << (uint(s-1) % 64)
	set.Val[word] |= bit
}
