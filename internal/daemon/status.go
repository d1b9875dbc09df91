package daemon

import (
	"fmt"
	"os"
	"strings"

	"github.com/tjper/jobd/internal/jobd"
	"github.com/tjper/jobd/internal/paths"
)

// writeStatusDump renders one line per job — label, state, pid, enabled,
// fault — to the well-known status dump path, in response to USR1.
func writeStatusDump(jobs []*jobd.Job) error {
	var b strings.Builder
	for _, j := range jobs {
		fault := "-"
		if j.Fault != nil {
			fault = j.Fault.Kind.String()
		}
		fmt.Fprintf(&b, "%s %s %d %t %s\n", j.Label, j.State, j.Pid, j.Enabled, fault)
	}

	path := paths.StatusDumpFile()
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write status dump %s: %w", path, err)
	}
	return nil
}
