package jobd

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// Supervisor owns fork/exec for manifests. It does not itself manage Job
// state; the state machine (machine.go) invokes it synchronously and
// interprets its result.
//
// Grounded on tjper-teleport/internal/jobworker/reexec/reexec.go's
// exit-status-from-syscall.WaitStatus logic and job.Job's use of
// SysProcAttr{Setpgid: true}; the grandchild re-exec handshake that
// package built around cgroup placement is not carried forward (cgroup
// placement is out of scope here — see DESIGN.md), so this execs the
// manifest's program directly.
type Supervisor struct{}

// NewSupervisor creates a Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Launched is the result of successfully starting a manifest's program.
type Launched struct {
	Pid int
	// Cmd is the started command. The state machine does not use it: it
	// signals the child's process group and reaps the child by Pid.
	Cmd *exec.Cmd
}

// Start forks and execs m's program. On success the returned Pid is a
// live child and Cmd is ready for the caller to wait on. On failure it
// returns a *Error with Kind == KindExecFailed whose Op names the step
// that failed: "start" (no program arguments), "resolve user", "dup2"
// (stdio setup), or "fork/exec" (which also covers chdir).
func (s *Supervisor) Start(m *Manifest) (*Launched, error) {
	args := m.ProgramArguments
	if len(args) == 0 {
		return nil, newError(KindExecFailed, "start", m.Label, fmt.Errorf("no program arguments"))
	}

	program, programArgs := args[0], args[1:]
	if os.Getenv("JOBD_DEBUG_NOFORK") != "" {
		// Exercises the fork/exit/reap pipeline against a trivial, always-
		// present binary instead of the manifest's real program, so tests
		// don't depend on what happens to be installed in the sandbox.
		program, programArgs = "true", nil
	}

	cmd := exec.Command(program, programArgs...)
	cmd.Dir = m.WorkingDirectory
	cmd.Env = buildEnv(m)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.RootDirectory != "" {
		cmd.SysProcAttr.Chroot = m.RootDirectory
	}

	if m.UserName != "" || m.GroupName != "" {
		cred, err := resolveCredential(m.UserName, m.GroupName)
		if err != nil {
			return nil, newError(KindExecFailed, "resolve user", m.Label, err)
		}
		cmd.SysProcAttr.Credential = cred
	}

	stdin, stdout, stderr, err := openStdio(m)
	if err != nil {
		return nil, newError(KindExecFailed, "dup2", m.Label, err)
	}
	// The child inherits its own dup'd copies of these fds across
	// fork/exec; the parent's copies serve no purpose once cmd.Start
	// returns (successfully or not) and must be closed here, since
	// exec.Cmd never closes caller-supplied *os.File stdio.
	defer stdin.Close()
	defer stdout.Close()
	defer stderr.Close()
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, newError(KindExecFailed, "fork/exec", m.Label, errors.WithStack(err))
	}

	return &Launched{Pid: cmd.Process.Pid, Cmd: cmd}, nil
}

// programMissing performs a cheap existence check at Load time for the
// manifest's program file, when the daemon can determine this cheaply.
// It only checks an absolute/relative path; a bare command name resolved
// via PATH is left to exec itself at Run time, since checking PATH
// resolution here would duplicate exec.LookPath's own logic for no
// benefit. The bool return is false whenever the check is inconclusive
// (PATH-resolved name), not just when the program exists.
func programMissing(m *Manifest) (string, bool) {
	if len(m.ProgramArguments) == 0 {
		return "", false
	}
	program := m.ProgramArguments[0]
	if program == "" || (program[0] != '/' && program[0] != '.') {
		return "", false
	}
	if _, err := os.Stat(program); err != nil {
		return program, true
	}
	return "", false
}

// buildEnv builds a child's environment from its manifest, with entries
// sorted for deterministic ordering in tests (manifest.go's
// sortedEnvKeys).
func buildEnv(m *Manifest) []string {
	env := os.Environ()
	for _, k := range m.sortedEnvKeys() {
		env = append(env, fmt.Sprintf("%s=%s", k, m.EnvironmentVariables[k]))
	}
	return env
}

// resolveCredential resolves userName/groupName to a syscall.Credential,
// failing if either account does not exist: a job's UserName/GroupName
// must resolve to a real account when launched.
func resolveCredential(userName, groupName string) (*syscall.Credential, error) {
	uid, gid := 0, 0

	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return nil, fmt.Errorf("lookup user %q: %w", userName, err)
		}
		uid, _ = strconv.Atoi(u.Uid)
		gid, _ = strconv.Atoi(u.Gid)
	}

	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return nil, fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		gid, _ = strconv.Atoi(g.Gid)
	}

	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}

// openStdio resolves a manifest's stdio redirection. Standard input
// defaults to /dev/null (there is no interactive terminal for a
// supervised job); stdout/stderr default to the per-label log files
// stdio.go describes.
func openStdio(m *Manifest) (stdin, stdout, stderr *os.File, err error) {
	inPath := m.StandardInPath
	if inPath == "" {
		inPath = os.DevNull
	}
	stdin, err = os.Open(inPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open stdin %q: %w", inPath, err)
	}

	outPath := stdoutPath(m)
	if err := os.MkdirAll(parentDir(outPath), 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("create stdout dir: %w", err)
	}
	stdout, err = os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, outputFileMode)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open stdout %q: %w", outPath, err)
	}

	errPath := stderrPath(m)
	if err := os.MkdirAll(parentDir(errPath), 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("create stderr dir: %w", err)
	}
	stderr, err = os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, outputFileMode)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open stderr %q: %w", errPath, err)
	}

	return stdin, stdout, stderr, nil
}

func parentDir(path string) string {
	return filepath.Dir(path)
}
