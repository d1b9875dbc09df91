package jobd

// Registry is the mapping from label to owned *Job. It is exclusively
// owned and mutated by the main-loop goroutine, so it carries no mutex;
// see DESIGN.md for the concurrency model this relies on.
type Registry struct {
	jobs map[string]*Job
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Define inserts a new Job built from manifest into the registry. It
// fails with KindDuplicateLabel if the label is already present: labels
// are unique within a registry. enabled seeds the job's durable Enabled
// property; this only happens here, at first definition — later rescans
// never touch it.
func (r *Registry) Define(manifest *Manifest, enabled bool) (*Job, error) {
	if _, ok := r.jobs[manifest.Label]; ok {
		return nil, newError(KindDuplicateLabel, "define", manifest.Label, errDuplicateLabel)
	}

	j := &Job{
		Label:    manifest.Label,
		Manifest: manifest,
		State:    Defined,
		Enabled:  enabled,
	}
	r.jobs[manifest.Label] = j
	return j, nil
}

// Remove deletes label from the registry. Remove is idempotent-on-absence
// only in the sense that the registry itself doesn't special-case it; the
// state machine guarantees Remove is only called once a job has been
// fully unloaded.
func (r *Registry) Remove(label string) {
	delete(r.jobs, label)
}

// ByLabel returns the Job registered under label, or KindNotFound.
func (r *Registry) ByLabel(label string) (*Job, error) {
	j, ok := r.jobs[label]
	if !ok {
		return nil, newError(KindNotFound, "by_label", label, errNotFound)
	}
	return j, nil
}

// ByPID performs a linear scan for the Job currently running as pid, or
// KindNotFound. Registries in this system hold on the order of hundreds
// of jobs, so a secondary index is not warranted.
func (r *Registry) ByPID(pid int) (*Job, error) {
	for _, j := range r.jobs {
		if j.Pid == pid {
			return j, nil
		}
	}
	return nil, newError(KindNotFound, "by_pid", "", errNotFound)
}

// Iterate returns every Job currently in the registry. The returned slice
// is a snapshot; mutating it does not affect the registry, but the *Job
// values themselves are still the registry's owned instances.
func (r *Registry) Iterate() []*Job {
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// Len reports the number of jobs currently registered.
func (r *Registry) Len() int {
	return len(r.jobs)
}
