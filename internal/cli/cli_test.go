package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjper/jobd/internal/ipc"
	"github.com/tjper/jobd/internal/jobd"
	"github.com/tjper/jobd/internal/multiplex"
)

func TestHelpJobdReturnsUnrecognizedAndPrintsUsage(t *testing.T) {
	stdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	code := helpJobd("Too few arguments")

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)

	if code != ecUnrecognized {
		t.Errorf("expected ecUnrecognized, got %d", code)
	}
	if !bytes.Contains(buf.Bytes(), []byte("Too few arguments")) {
		t.Errorf("expected usage text to mention the notice, got %q", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("Available Commands")) {
		t.Errorf("expected usage text to list available commands, got %q", buf.String())
	}
}

// driveOneEvent mirrors internal/ipc's own helper: it waits for a single
// event on q and, if it is a *ipc.ControlEvent, dispatches it against
// control — standing in for daemon.Run's multiplex.Read case.
func driveOneEvent(t *testing.T, q *multiplex.Queue, control *jobd.Control) {
	t.Helper()
	ev, err := q.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ce, ok := ev.Tag.(*ipc.ControlEvent)
	if !ok {
		t.Fatalf("expected a *ipc.ControlEvent, got %T", ev.Tag)
	}
	ce.Respond(ipc.Dispatch(control, ce.Request))
}

func testServer(t *testing.T) (socketPath string, q *multiplex.Queue, control *jobd.Control) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	q, err := multiplex.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	machine, err := jobd.NewMachine(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	control = jobd.NewControl(machine)

	socketPath = filepath.Join(t.TempDir(), "jobd.sock")
	l, err := ipc.Listen(socketPath, q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	return socketPath, q, control
}

func TestJobctlStatusCmdReportsLoadedJob(t *testing.T) {
	socketPath, q, control := testServer(t)
	jobctlSocket = socketPath
	defer func() { jobctlSocket = "" }()

	manifestPath := filepath.Join(t.TempDir(), "example.json")
	if err := os.WriteFile(manifestPath, []byte(`{"Label":"com.jobd.cli-test","ProgramArguments":["/bin/true"],"Enable":false}`), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go driveOneEvent(t, q, control)
	if err := jobctlLoadCmd.RunE(jobctlLoadCmd, []string{manifestPath}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	os.Stdout = w

	done := make(chan struct{})
	go func() {
		driveOneEvent(t, q, control)
		close(done)
	}()
	if err := jobctlStatusCmd.RunE(jobctlStatusCmd, []string{"com.jobd.cli-test"}); err != nil {
		w.Close()
		os.Stdout = stdout
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		w.Close()
		os.Stdout = stdout
		t.Fatal("timed out waiting for status dispatch")
	}

	w.Close()
	os.Stdout = stdout
	var buf bytes.Buffer
	io.Copy(&buf, r)

	if !bytes.Contains(buf.Bytes(), []byte("com.jobd.cli-test")) {
		t.Errorf("expected status output to mention the label, got %q", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("state=LOADED")) {
		t.Errorf("expected status output to report LOADED, got %q", buf.String())
	}
}

func TestJobctlLabelCommandPropagatesNotFound(t *testing.T) {
	socketPath, q, control := testServer(t)
	jobctlSocket = socketPath
	defer func() { jobctlSocket = "" }()

	go driveOneEvent(t, q, control)

	err := jobctlLabelCommand("enable")(jobctlEnableCmd, []string{"com.jobd.missing"})
	if err == nil {
		t.Fatal("expected an error enabling an unknown label")
	}
}
