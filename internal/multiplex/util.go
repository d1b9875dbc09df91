package multiplex

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// readStruct reads up to unsafe.Sizeof(*out) bytes from fd directly into
// out and returns the count read. It supports only the signalfd_siginfo
// record signalfd delivers (timerfd's counter is read in resolveTimer),
// mirroring internal/fsnotify's unsafe.Pointer cast of a raw read buffer
// onto unix.InotifyEvent.
func readStruct(fd int, out any) (int, error) {
	var p unsafe.Pointer
	var size uintptr

	switch v := out.(type) {
	case *unix.SignalfdSiginfo:
		p = unsafe.Pointer(v)
		size = unsafe.Sizeof(*v)
	default:
		panic("multiplex: readStruct: unsupported type")
	}

	buf := unsafe.Slice((*byte)(p), size)
	return unix.Read(fd, buf)
}
