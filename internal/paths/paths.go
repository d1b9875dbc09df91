// Package paths resolves the on-disk locations jobd reads and writes:
// the manifest directory, the durable property and volatile status
// directories, and the pidfile. Each honors the standard XDG_* overrides
// with a fallback to a single fixed root.
package paths

import (
	"os"
	"path/filepath"
)

const (
	// defaultRoot is the root used when no XDG_* override is present,
	// housing all three subdirectories below.
	defaultRoot = "/var/lib/jobd"

	manifestSub = "manifests"
	propertySub = "property"
	statusSub   = "status"
	locksSub    = ".locks"

	pidFileName    = "jobd.pid"
	statusDumpName = "jobd.status"
	socketName     = "jobd.sock"
)

// ManifestDir returns the directory normalized manifests are stored in.
func ManifestDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "jobd", manifestSub)
	}
	return filepath.Join(defaultRoot, manifestSub)
}

// DataDir returns the directory durable per-job properties are stored in.
func DataDir() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "jobd")
	}
	return filepath.Join(defaultRoot, "data")
}

// RuntimeDir returns the directory volatile per-job status is stored in.
func RuntimeDir() string {
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return filepath.Join(v, "jobd")
	}
	return filepath.Join(defaultRoot, "run")
}

// PropertyDir returns DataDir()/property, where durable {enabled,fault}
// records live, one file per label.
func PropertyDir() string {
	return filepath.Join(DataDir(), propertySub)
}

// PropertyFile returns the path the durable property record for label is
// stored at.
func PropertyFile(label string) string {
	return filepath.Join(PropertyDir(), label+".json")
}

// LockFile returns the path of the advisory lock guarding
// read-modify-write access to label's property record.
func LockFile(label string) string {
	return filepath.Join(PropertyDir(), locksSub, label+".lock")
}

// StatusDir returns RuntimeDir()/status, where volatile {pid,
// last_exit_status, term_signal} records live, one file per label.
func StatusDir() string {
	return filepath.Join(RuntimeDir(), statusSub)
}

// StatusFile returns the path the volatile status record for label is
// stored at.
func StatusFile(label string) string {
	return filepath.Join(StatusDir(), label+".json")
}

// ManifestFile returns the path label's normalized manifest is stored at.
func ManifestFile(label string) string {
	return filepath.Join(ManifestDir(), label+".json")
}

// PidFile returns the daemon's own pidfile path.
func PidFile() string {
	return filepath.Join(RuntimeDir(), pidFileName)
}

// StatusDumpFile returns the path the USR1 human-readable status dump is
// written to.
func StatusDumpFile() string {
	return filepath.Join(RuntimeDir(), statusDumpName)
}

// SocketPath returns the path the control-plane Unix domain socket is
// bound to.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), socketName)
}
