package jobd

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadParams is the load RPC's parameter shape: a path to a manifest file
// on disk, readable by the daemon.
type LoadParams struct {
	Path string `json:"path"`
}

// LabelParams is the parameter shape shared by unload/enable/disable/
// clear/status.
type LabelParams struct {
	Label string `json:"label"`
}

// StatusResult is the status RPC's result shape, and the per-job value in
// list's result map.
type StatusResult struct {
	Pid     int    `json:"pid"`
	State   string `json:"state"`
	Enabled bool   `json:"enabled"`
	Fault   *Fault `json:"fault,omitempty"`
}

// Control dispatches the seven control-plane RPC methods onto a Machine.
// Every method runs synchronously to completion on the caller's
// goroutine — in production that is always the main-loop goroutine
// handling one already-read IPC frame, so no method here may block on
// anything but the Machine calls it already makes.
type Control struct {
	machine *Machine
}

// NewControl creates a Control bound to machine.
func NewControl(machine *Machine) *Control {
	return &Control{machine: machine}
}

// Dispatch routes method to its handler, decoding params as that
// method's parameter type. The returned value is whatever the handler
// produces for a successful call; callers JSON-encode it as the RPC
// response's result field.
func (c *Control) Dispatch(method string, params json.RawMessage) (any, error) {
	switch method {
	case "load":
		return c.load(params)
	case "unload":
		return nil, c.withLabel(params, c.machine.Unload)
	case "enable":
		return nil, c.withLabel(params, c.machine.Enable)
	case "disable":
		return nil, c.withLabel(params, c.machine.Disable)
	case "clear":
		return nil, c.withLabel(params, c.machine.ClearFault)
	case "status":
		return c.status(params)
	case "list":
		return c.list(), nil
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func (c *Control) load(raw json.RawMessage) (*StatusResult, error) {
	var p LoadParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, newError(KindParseError, "load", "", err)
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, newError(KindIO, "load", p.Path, err)
	}

	manifest, err := Parse(data)
	if err != nil {
		return nil, err
	}

	j, err := c.machine.DefineAndLoad(manifest)
	if err != nil {
		return nil, err
	}
	return jobStatus(j), nil
}

func (c *Control) status(raw json.RawMessage) (*StatusResult, error) {
	var p LabelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, newError(KindParseError, "status", "", err)
	}
	j, err := c.machine.registry.ByLabel(p.Label)
	if err != nil {
		return nil, err
	}
	return jobStatus(j), nil
}

func (c *Control) list() map[string]StatusResult {
	out := make(map[string]StatusResult)
	for _, j := range c.machine.registry.Iterate() {
		out[j.Label] = *jobStatus(j)
	}
	return out
}

// withLabel decodes raw as LabelParams and calls fn with the label,
// sharing the decode-then-dispatch shape across the four RPC methods
// that take only a label and return no result.
func (c *Control) withLabel(raw json.RawMessage, fn func(string) error) error {
	var p LabelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return newError(KindParseError, "", "", err)
	}
	return fn(p.Label)
}

func jobStatus(j *Job) *StatusResult {
	return &StatusResult{
		Pid:     j.Pid,
		State:   j.State.String(),
		Enabled: j.Enabled,
		Fault:   j.Fault,
	}
}
