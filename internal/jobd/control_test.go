package jobd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tjper/jobd/internal/multiplex"
)

func testControl(t *testing.T) (*Control, *Machine) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	q, err := multiplex.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	m, err := NewMachine(q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewControl(m), m
}

func writeManifestFile(t *testing.T, label string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	data := []byte(`{"Label":"` + label + `","ProgramArguments":["/bin/true"],"Enable":false}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestControlLoadAndStatus(t *testing.T) {
	c, _ := testControl(t)
	path := writeManifestFile(t, "com.example.ctl")

	loadParams, _ := json.Marshal(LoadParams{Path: path})
	result, err := c.Dispatch("load", loadParams)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, ok := result.(*StatusResult)
	if !ok {
		t.Fatalf("expected *StatusResult, got %T", result)
	}
	if status.State != Loaded.String() {
		t.Errorf("expected state LOADED, got %s", status.State)
	}

	statusParams, _ := json.Marshal(LabelParams{Label: "com.example.ctl"})
	result, err = c.Dispatch("status", statusParams)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status = result.(*StatusResult)
	if status.State != Loaded.String() {
		t.Errorf("expected state LOADED from status, got %s", status.State)
	}
}

func TestControlUnknownMethod(t *testing.T) {
	c, _ := testControl(t)
	_, err := c.Dispatch("bogus", nil)
	if err == nil {
		t.Fatal("expected an error for an unrecognized method")
	}
}

func TestControlEnableDisableClear(t *testing.T) {
	c, _ := testControl(t)
	path := writeManifestFile(t, "com.example.togglable")
	loadParams, _ := json.Marshal(LoadParams{Path: path})
	if _, err := c.Dispatch("load", loadParams); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	labelParams, _ := json.Marshal(LabelParams{Label: "com.example.togglable"})

	if _, err := c.Dispatch("enable", labelParams); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Dispatch("disable", labelParams); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Dispatch("clear", labelParams); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestControlListIncludesLoadedJobs(t *testing.T) {
	c, _ := testControl(t)
	path := writeManifestFile(t, "com.example.listed")
	loadParams, _ := json.Marshal(LoadParams{Path: path})
	if _, err := c.Dispatch("load", loadParams); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := c.Dispatch("list", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	listing := result.(map[string]StatusResult)
	if _, ok := listing["com.example.listed"]; !ok {
		t.Fatalf("expected the loaded job in the listing, got %v", listing)
	}
}

func TestControlUnloadUnknownLabel(t *testing.T) {
	c, _ := testControl(t)
	labelParams, _ := json.Marshal(LabelParams{Label: "com.example.never-loaded"})
	_, err := c.Dispatch("unload", labelParams)
	if err == nil {
		t.Fatal("expected an error unloading an unknown label")
	}
	if k := errKind(t, err); k != KindNotFound {
		t.Errorf("expected KindNotFound, got %v", k)
	}
}
