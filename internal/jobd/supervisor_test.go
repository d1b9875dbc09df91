package jobd

import (
	"os"
	"testing"
)

// openFDCount reports how many fds this process currently has open, via
// /proc/self/fd — the cheapest way on Linux to notice a leak without
// guessing at which fd numbers a leak would land on.
func openFDCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot read /proc/self/fd: %v", err)
	}
	return len(entries)
}

func TestSupervisorStartClosesParentStdioCopies(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	s := NewSupervisor()
	manifest := testManifest("com.example.fds")
	manifest.ProgramArguments = []string{"/bin/true"}

	before := openFDCount(t)

	const launches = 20
	for i := 0; i < launches; i++ {
		launched, err := s.Start(manifest)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := launched.Cmd.Wait(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	after := openFDCount(t)
	if after > before+3 {
		t.Errorf("expected the parent's stdin/stdout/stderr copies to be closed after each launch; before=%d after=%d across %d launches (leaked ~%d fds)", before, after, launches, after-before)
	}
}
