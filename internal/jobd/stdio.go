package jobd

import (
	"fmt"
	"path/filepath"

	"github.com/tjper/jobd/internal/paths"
)

// outputFileMode is the permission bits used for a job's default stdio
// redirection files.
const outputFileMode = 0644

// outputDir is the directory a job's default (manifest-unspecified) stdout
// and stderr are written to.
func outputDir() string {
	return filepath.Join(paths.RuntimeDir(), "output")
}

// stdoutPath returns the manifest's StandardOutPath, or, when unset, one
// file per job under outputDir, keyed by label.
func stdoutPath(m *Manifest) string {
	if m.StandardOutPath != "" {
		return m.StandardOutPath
	}
	return filepath.Join(outputDir(), fmt.Sprintf("%s.out.log", m.Label))
}

// stderrPath mirrors stdoutPath for StandardErrorPath.
func stderrPath(m *Manifest) string {
	if m.StandardErrorPath != "" {
		return m.StandardErrorPath
	}
	return filepath.Join(outputDir(), fmt.Sprintf("%s.err.log", m.Label))
}
