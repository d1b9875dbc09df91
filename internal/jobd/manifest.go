package jobd

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/tjper/jobd/internal/validator"
)

// labelPattern matches the Label grammar: [A-Za-z0-9._-]+.
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// defaultThrottleInterval is the minimum delay, in seconds, before a
// keep-alive restart when a manifest does not specify ThrottleInterval.
const defaultThrottleInterval = 10

// Manifest is the immutable, validated description of one job. It is
// produced by Parse and is never mutated after that.
type Manifest struct {
	Label            string            `json:"Label"`
	Program          string            `json:"Program,omitempty"`
	ProgramArguments []string          `json:"ProgramArguments,omitempty"`
	Enable           bool              `json:"Enable"`
	RunAtLoad        bool              `json:"RunAtLoad,omitempty"`
	StartInterval    uint              `json:"StartInterval,omitempty"`
	KeepAlive        bool              `json:"KeepAlive,omitempty"`
	ThrottleInterval uint              `json:"ThrottleInterval"`
	UserName         string            `json:"UserName,omitempty"`
	GroupName        string            `json:"GroupName,omitempty"`

	WorkingDirectory  string `json:"WorkingDirectory,omitempty"`
	RootDirectory     string `json:"RootDirectory,omitempty"`
	StandardInPath    string `json:"StandardInPath,omitempty"`
	StandardOutPath   string `json:"StandardOutPath,omitempty"`
	StandardErrorPath string `json:"StandardErrorPath,omitempty"`

	EnvironmentVariables map[string]string `json:"EnvironmentVariables,omitempty"`

	StartCalendarInterval *CalendarInterval `json:"StartCalendarInterval,omitempty"`
}

// CalendarInterval is the launchd-style calendar schedule shape. Every
// field is optional; a nil field means "every value of that unit."
type CalendarInterval struct {
	Minute  *int `json:"Minute,omitempty"`
	Hour    *int `json:"Hour,omitempty"`
	Day     *int `json:"Day,omitempty"`
	Weekday *int `json:"Weekday,omitempty"`
	Month   *int `json:"Month,omitempty"`
}

// Parse decodes and validates a manifest from raw JSON bytes, returning a
// normalized *Manifest. Parse failures are reported as a *Error with
// Kind == KindParseError.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	// Enable and ThrottleInterval need distinguishable "absent" states to
	// apply their documented defaults, so decode into a raw map first.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newError(KindParseError, "parse", "", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, newError(KindParseError, "parse", "", err)
	}

	if _, ok := raw["Enable"]; !ok {
		m.Enable = true
	}
	if _, ok := raw["ThrottleInterval"]; !ok {
		m.ThrottleInterval = defaultThrottleInterval
	}

	if len(m.ProgramArguments) == 0 && m.Program != "" {
		m.ProgramArguments = []string{m.Program}
	}

	if err := m.validate(); err != nil {
		return nil, newError(KindParseError, "parse", m.Label, err)
	}

	m.normalize()
	return &m, nil
}

// validate enforces a manifest's required-field constraints.
func (m *Manifest) validate() error {
	v := validator.New()
	v.Assert(m.Label != "", "label empty")
	v.AssertFunc(func() bool { return labelPattern.MatchString(m.Label) }, "label contains invalid characters")
	v.AssertFunc(func() bool { return m.Program != "" || len(m.ProgramArguments) > 0 }, "program or program arguments required")
	return v.Err()
}

// normalize puts a Manifest into the canonical form persisted to disk by
// replacing nil ProgramArguments and EnvironmentVariables with empty
// values. encoding/json already emits map keys in sorted order, so
// Normalize(Parse(x)) == Normalize(x) byte-for-byte.
func (m *Manifest) normalize() {
	if m.ProgramArguments == nil {
		m.ProgramArguments = []string{}
	}
	if m.EnvironmentVariables == nil {
		m.EnvironmentVariables = map[string]string{}
	}
}

// Normalize returns the canonical JSON encoding of m, as written to
// manifestDir/<label>.json.
func (m *Manifest) Normalize() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// sortedEnvKeys returns EnvironmentVariables' keys in sorted order, used
// when building a child process's environment (supervisor.go) so the
// resulting argv/envp is deterministic for tests.
func (m *Manifest) sortedEnvKeys() []string {
	keys := make([]string, 0, len(m.EnvironmentVariables))
	for k := range m.EnvironmentVariables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String implements fmt.Stringer for log lines.
func (m *Manifest) String() string {
	return fmt.Sprintf("Manifest{Label: %s}", m.Label)
}
