package daemon

import (
	"fmt"
	"os"

	"github.com/tjper/jobd/internal/paths"
)

// writePidFile records the current process's pid at the well-known
// pidfile path. Startup failure here is fatal, per the propagation
// policy for anything needed before the daemon can accept work.
func writePidFile() error {
	path := paths.PidFile()
	data := []byte(fmt.Sprintf("%d\n", os.Getpid()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write pidfile %s: %w", path, err)
	}
	return nil
}

// removePidFile best-effort removes the pidfile on shutdown.
func removePidFile() {
	_ = os.Remove(paths.PidFile())
}
