package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjper/jobd/internal/fsnotify"
	"github.com/tjper/jobd/internal/jobd"
	"github.com/tjper/jobd/internal/multiplex"

	"golang.org/x/sys/unix"
)

func TestForwardVnodeEventsPostsOnManifestDirectoryChange(t *testing.T) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	if _, err := watcher.AddWatch(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q, err := multiplex.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	go forwardVnodeEvents(watcher, q)

	if err := os.WriteFile(filepath.Join(dir, "example.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan multiplex.Event, 1)
	go func() {
		ev, err := q.Wait()
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		done <- ev
	}()

	select {
	case ev := <-done:
		if ev.Kind != multiplex.Vnode {
			t.Fatalf("expected a VNODE event, got %s", ev.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forwarded VNODE event")
	}
}

// TestHandleSignalSIGCHLDDoesNotDeadlock reproduces the main loop's own
// call sequence — handleSignal(SIGCHLD) followed by q.Wait() on the same
// goroutine — which hangs forever if ReapChildren posts its PROC_EXIT
// event synchronously instead of from a background goroutine.
func TestHandleSignalSIGCHLDDoesNotDeadlock(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	q, err := multiplex.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	machine, err := jobd.NewMachine(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the child exit before reaping

	done := make(chan multiplex.Event, 1)
	errs := make(chan error, 1)
	go func() {
		if _, err := handleSignal(machine, int(unix.SIGCHLD), q); err != nil {
			errs <- err
			return
		}
		ev, err := q.Wait()
		if err != nil {
			errs <- err
			return
		}
		done <- ev
	}()

	select {
	case ev := <-done:
		if ev.Kind != multiplex.ProcExit {
			t.Fatalf("expected a PROC_EXIT event, got %s", ev.Kind)
		}
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("handleSignal(SIGCHLD) then q.Wait() deadlocked on the same goroutine")
	}
}
