package jobd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tjper/jobd/internal/paths"

	"github.com/gofrs/flock"
)

// Property is the durable per-job record: whether the job is enabled,
// and its current fault (if any).
type Property struct {
	Enabled bool   `json:"enabled"`
	Fault   *Fault `json:"fault,omitempty"`
}

// Status is the volatile per-job record: pid, last exit status, and
// terminating signal. It is best-effort; unlike Property it is never
// fsynced and may be wiped across a restart.
type Status struct {
	Pid            int `json:"pid"`
	LastExitStatus int `json:"last_exit_status"`
	TermSignal     int `json:"term_signal"`
}

// Persistence manages three on-disk locations, one file per job, each
// written the way its durability requirement demands.
type Persistence struct {
	ManifestDir string
	DataDir     string
	RuntimeDir  string
}

// NewPersistence creates a Persistence rooted at the process's resolved
// XDG paths.
func NewPersistence() *Persistence {
	return &Persistence{
		ManifestDir: paths.ManifestDir(),
		DataDir:     paths.DataDir(),
		RuntimeDir:  paths.RuntimeDir(),
	}
}

// EnsureDirs creates every directory Persistence writes to.
func (p *Persistence) EnsureDirs() error {
	dirs := []string{
		p.ManifestDir,
		filepath.Join(p.DataDir, "property"),
		filepath.Join(p.DataDir, "property", ".locks"),
		filepath.Join(p.RuntimeDir, "status"),
		filepath.Join(p.RuntimeDir, "output"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return newError(KindIO, "ensure_dirs", "", err)
		}
	}
	return nil
}

// SaveManifest writes m's normalized JSON encoding to
// manifestDir/<label>.json, atomically (write-then-rename), at define.
func (p *Persistence) SaveManifest(m *Manifest) error {
	data, err := m.Normalize()
	if err != nil {
		return newError(KindIO, "save_manifest", m.Label, err)
	}
	if err := atomicWrite(p.manifestPath(m.Label), data, true); err != nil {
		return newError(KindIO, "save_manifest", m.Label, err)
	}
	return nil
}

// DeleteManifest unlinks label's manifest. Called at registry-delete.
func (p *Persistence) DeleteManifest(label string) error {
	if err := os.Remove(p.manifestPath(label)); err != nil && !os.IsNotExist(err) {
		return newError(KindIO, "delete_manifest", label, err)
	}
	return nil
}

// ScanManifests reads every file in manifestDir and attempts to parse it.
// A malformed file does not abort the scan — one bad file must not
// prevent other jobs from loading — it is reported alongside the
// manifests that did parse so the caller can log-and-continue.
func (p *Persistence) ScanManifests() ([]*Manifest, []error) {
	entries, err := os.ReadDir(p.ManifestDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{newError(KindIO, "scan", "", err)}
	}

	var manifests []*Manifest
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(p.ManifestDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, newError(KindIO, "scan", entry.Name(), err))
			continue
		}
		m, err := Parse(data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, errs
}

// EditProperty performs a read-modify-write under a per-label advisory
// lock, fsyncing before rename. The lock is a github.com/gofrs/flock
// file lock distinct from the property file itself, so a reader never
// observes a half-written property record.
func (p *Persistence) EditProperty(label string, mutate func(*Property)) error {
	lock := flock.New(p.lockPath(label))
	if err := lock.Lock(); err != nil {
		return newError(KindIO, "edit_property", label, err)
	}
	defer lock.Unlock()

	prop, err := p.readProperty(label)
	if err != nil {
		return err
	}

	mutate(prop)

	data, err := json.MarshalIndent(prop, "", "  ")
	if err != nil {
		return newError(KindIO, "edit_property", label, err)
	}
	if err := atomicWrite(p.propertyPath(label), data, true); err != nil {
		return newError(KindIO, "edit_property", label, err)
	}
	return nil
}

// LoadProperty reads label's durable property record, or the zero value
// (Enabled: false, Fault: nil) if none exists yet.
func (p *Persistence) LoadProperty(label string) (*Property, error) {
	lock := flock.New(p.lockPath(label))
	if err := lock.RLock(); err != nil {
		return nil, newError(KindIO, "load_property", label, err)
	}
	defer lock.Unlock()
	return p.readProperty(label)
}

// PropertyExists reports whether label already has a durable property
// record on disk, distinguishing "never defined" from "defined, with the
// zero-value Enabled/Fault" — LoadProperty alone can't tell those apart
// since it returns the zero value for both.
func (p *Persistence) PropertyExists(label string) bool {
	_, err := os.Stat(p.propertyPath(label))
	return err == nil
}

func (p *Persistence) readProperty(label string) (*Property, error) {
	data, err := os.ReadFile(p.propertyPath(label))
	if os.IsNotExist(err) {
		return &Property{}, nil
	}
	if err != nil {
		return nil, newError(KindIO, "read_property", label, err)
	}
	var prop Property
	if err := json.Unmarshal(data, &prop); err != nil {
		return nil, newError(KindIO, "read_property", label, err)
	}
	return &prop, nil
}

// SaveStatus writes label's volatile status record best-effort (no
// fsync, no rename); it may be wiped on restart.
func (p *Persistence) SaveStatus(label string, s Status) error {
	data, err := json.Marshal(s)
	if err != nil {
		return newError(KindIO, "save_status", label, err)
	}
	if err := os.WriteFile(p.statusPath(label), data, 0644); err != nil {
		return newError(KindIO, "save_status", label, err)
	}
	return nil
}

// DeleteStatus removes label's volatile status record.
func (p *Persistence) DeleteStatus(label string) error {
	if err := os.Remove(p.statusPath(label)); err != nil && !os.IsNotExist(err) {
		return newError(KindIO, "delete_status", label, err)
	}
	return nil
}

func (p *Persistence) manifestPath(label string) string {
	return filepath.Join(p.ManifestDir, label+".json")
}

func (p *Persistence) propertyPath(label string) string {
	return filepath.Join(p.DataDir, "property", label+".json")
}

func (p *Persistence) lockPath(label string) string {
	return filepath.Join(p.DataDir, "property", ".locks", label+".lock")
}

func (p *Persistence) statusPath(label string) string {
	return filepath.Join(p.RuntimeDir, "status", label+".json")
}

// atomicWrite writes data to a temp file alongside path and renames it
// into place, optionally fsyncing first: the write-then-rename pattern
// used for manifests and, via EditProperty, for property records.
func atomicWrite(path string, data []byte, sync bool) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}

	if sync {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("fsync temp file: %w", err)
		}
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
