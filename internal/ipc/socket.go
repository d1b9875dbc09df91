package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/tjper/jobd/internal/jobd"
	"github.com/tjper/jobd/internal/log"
	"github.com/tjper/jobd/internal/multiplex"
)

var logger = log.New(os.Stdout, "ipc")

// Handler dispatches one decoded RPC call and returns its result (or an
// error). jobd.Control satisfies this directly.
type Handler interface {
	Dispatch(method string, params json.RawMessage) (any, error)
}

// ControlEvent is what a connection goroutine posts onto the event
// queue once it has read and decoded one complete request. The main
// loop is the only goroutine that may call Respond — this is the
// handoff point between per-connection I/O and the single-threaded
// state machine.
type ControlEvent struct {
	Request Request

	respond chan<- Response
}

// Respond delivers resp back to the waiting connection goroutine, which
// writes it to the client and closes the connection.
func (e *ControlEvent) Respond(resp Response) {
	e.respond <- resp
}

// Listener accepts IPC connections and posts one ControlEvent per
// request onto a multiplex.Queue, so request handling runs on the
// main-loop goroutine like every other event.
type Listener struct {
	ln    net.Listener
	queue *multiplex.Queue
	path  string
}

// Listen creates a Unix domain socket at path and begins accepting
// connections in the background. An existing socket file at path is
// removed first (a stale socket from a previous, uncleanly-stopped
// daemon run).
func Listen(path string, queue *multiplex.Queue) (*Listener, error) {
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}

	l := &Listener{ln: ln, queue: queue, path: path}
	go l.acceptLoop()
	return l, nil
}

// Close stops accepting connections and removes the socket file.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Warnf("accept; error: %s", err)
			}
			return
		}
		go l.serve(conn)
	}
}

// serve handles exactly one request on conn, per spec: read one frame,
// dispatch, write one frame, close.
func (l *Listener) serve(conn net.Conn) {
	defer conn.Close()

	payload, err := ReadFrame(conn)
	if err != nil {
		logger.Warnf("read request frame; error: %s", err)
		return
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		writeResponse(conn, Response{Error: &ErrorInfo{Code: "PARSE_ERROR", Message: err.Error()}})
		return
	}

	respond := make(chan Response, 1)
	l.queue.Post(multiplex.Event{Kind: multiplex.Read, Tag: &ControlEvent{Request: req, respond: respond}})

	resp := <-respond
	resp.ID = req.ID
	writeResponse(conn, resp)
}

func writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Errorf("marshal response; error: %s", err)
		return
	}
	if err := WriteFrame(conn, data); err != nil {
		logger.Warnf("write response frame; error: %s", err)
	}
}

// Dispatch runs req against handler and builds the Response it produces,
// mapping any *jobd.Error's Kind to the response's error code verbatim.
func Dispatch(handler Handler, req Request) Response {
	result, err := handler.Dispatch(req.Method, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: errorInfo(err)}
	}
	return Response{ID: req.ID, Result: result}
}

func errorInfo(err error) *ErrorInfo {
	var jerr *jobd.Error
	if errors.As(err, &jerr) {
		return &ErrorInfo{Code: jerr.Kind.String(), Message: jerr.Error()}
	}
	return &ErrorInfo{Code: "INTERNAL", Message: err.Error()}
}
