package jobd

import (
	"errors"
	"testing"
)

// errKind unwraps err's *Error.Kind, for tests that care which failure
// category Parse returned.
func errKind(t *testing.T, err error) Kind {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected a *jobd.Error, got %T: %v", err, err)
	}
	return e.Kind
}

func TestParseAppliesDefaults(t *testing.T) {
	m, err := Parse([]byte(`{"Label":"com.example.foo","Program":"/bin/foo"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Enable {
		t.Error("expected Enable to default to true when absent")
	}
	if m.ThrottleInterval != defaultThrottleInterval {
		t.Errorf("expected ThrottleInterval to default to %d, got %d", defaultThrottleInterval, m.ThrottleInterval)
	}
	if len(m.ProgramArguments) != 1 || m.ProgramArguments[0] != "/bin/foo" {
		t.Errorf("expected Program to populate ProgramArguments, got %v", m.ProgramArguments)
	}
}

func TestParseRespectsExplicitFalse(t *testing.T) {
	m, err := Parse([]byte(`{"Label":"com.example.foo","Program":"/bin/foo","Enable":false,"ThrottleInterval":0}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Enable {
		t.Error("expected explicit Enable:false to be preserved")
	}
	if m.ThrottleInterval != 0 {
		t.Errorf("expected explicit ThrottleInterval:0 to be preserved, got %d", m.ThrottleInterval)
	}
}

func TestParseRejectsMissingLabel(t *testing.T) {
	_, err := Parse([]byte(`{"Program":"/bin/foo"}`))
	if err == nil {
		t.Fatal("expected an error for a manifest with no label")
	}
	if k := errKind(t, err); k != KindParseError {
		t.Errorf("expected KindParseError, got %v", k)
	}
}

func TestParseRejectsInvalidLabelCharacters(t *testing.T) {
	_, err := Parse([]byte(`{"Label":"has a space","Program":"/bin/foo"}`))
	if err == nil {
		t.Fatal("expected an error for a label with invalid characters")
	}
}

func TestParseRejectsMissingProgram(t *testing.T) {
	_, err := Parse([]byte(`{"Label":"com.example.foo"}`))
	if err == nil {
		t.Fatal("expected an error for a manifest with no program")
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
	if k := errKind(t, err); k != KindParseError {
		t.Errorf("expected KindParseError, got %v", k)
	}
}

func TestNormalizeRoundTrips(t *testing.T) {
	m, err := Parse([]byte(`{"Label":"com.example.foo","Program":"/bin/foo","EnvironmentVariables":{"B":"2","A":"1"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := m.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reparsed, err := Parse(first)
	if err != nil {
		t.Fatalf("unexpected error reparsing normalized output: %v", err)
	}

	second, err := reparsed.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("Normalize(Parse(x)) != Normalize(x):\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestSortedEnvKeys(t *testing.T) {
	m := &Manifest{EnvironmentVariables: map[string]string{"Z": "1", "A": "2", "M": "3"}}
	keys := m.sortedEnvKeys()
	want := []string{"A", "M", "Z"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("expected %v, got %v", want, keys)
			break
		}
	}
}
