package ipc

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjper/jobd/internal/multiplex"
)

// echoHandler dispatches every call by echoing its method name back as
// the result, or an error if method == "fail".
type echoHandler struct{}

func (echoHandler) Dispatch(method string, params json.RawMessage) (any, error) {
	if method == "fail" {
		return nil, errBoom
	}
	return map[string]string{"method": method}, nil
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

// driveOneEvent waits for a single event on q and, if it is a
// *ControlEvent, dispatches it against handler — standing in for the
// main loop's multiplex.Read case in daemon.Run.
func driveOneEvent(t *testing.T, q *multiplex.Queue, handler Handler) {
	t.Helper()
	ev, err := q.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ce, ok := ev.Tag.(*ControlEvent)
	if !ok {
		t.Fatalf("expected a *ControlEvent, got %T", ev.Tag)
	}
	ce.Respond(Dispatch(handler, ce.Request))
}

func TestListenServesOneRequestPerConnection(t *testing.T) {
	q, err := multiplex.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	socketPath := filepath.Join(t.TempDir(), "jobd.sock")
	l, err := Listen(socketPath, q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	done := make(chan struct{})
	go func() {
		driveOneEvent(t, q, echoHandler{})
		close(done)
	}()

	client := NewClient(socketPath)
	var result map[string]string
	if err := client.Call("ping", nil, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["method"] != "ping" {
		t.Errorf("expected method \"ping\" echoed back, got %v", result)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to dispatch the request")
	}
}

func TestListenPropagatesHandlerError(t *testing.T) {
	q, err := multiplex.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()

	socketPath := filepath.Join(t.TempDir(), "jobd.sock")
	l, err := Listen(socketPath, q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer l.Close()

	go driveOneEvent(t, q, echoHandler{})

	client := NewClient(socketPath)
	err = client.Call("fail", nil, nil)
	if err == nil {
		t.Fatal("expected an error from a failing handler call")
	}
}

func TestDispatchMapsNonJobdErrorToInternalCode(t *testing.T) {
	resp := Dispatch(echoHandler{}, Request{ID: "1", Method: "fail"})
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != "INTERNAL" {
		t.Errorf("expected a non-*jobd.Error to map to INTERNAL, got %s", resp.Error.Code)
	}
}
