package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Client is a one-shot RPC client: each Call dials a fresh connection,
// sends one request, reads one response, and closes — matching the
// server's "one request per connection" contract.
type Client struct {
	path    string
	timeout time.Duration
}

// NewClient creates a Client dialing the Unix domain socket at path.
func NewClient(path string) *Client {
	return &Client{path: path, timeout: 5 * time.Second}
}

// Call invokes method with params and decodes the result into out (if
// non-nil). A non-nil error is returned verbatim from the server's
// {code, message} error, wrapped so its text is self-describing.
func (c *Client) Call(method string, params, out any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	req := Request{ID: uuid.NewString(), Method: method, Params: paramsJSON}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	conn, err := net.DialTimeout("unix", c.path, c.timeout)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.path, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, reqJSON); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	respJSON, err := ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respJSON, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}

	if out == nil || resp.Result == nil {
		return nil
	}
	resultJSON, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("re-marshal result: %w", err)
	}
	return json.Unmarshal(resultJSON, out)
}
