package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// dialTimeout bounds connecting to a daemon that may not be running.
const dialTimeout = 2 * time.Second

// Client talks to a running consume daemon.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to the daemon on the given local port.
func Dial(port int) (*Client, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon on port %d: %w", port, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one command and decodes the reply into out (which may be
// nil). A response with ok=false becomes an error.
func (c *Client) Call(cmd string, args any, out any) error {
	req := Request{Cmd: cmd}
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("encode args: %w", err)
		}
		req.Args = b
	}

	c.conn.SetDeadline(time.Now().Add(replyTimeout))
	if err := json.NewEncoder(c.conn).Encode(req); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}

	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read %s reply: %w", cmd, err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", cmd, err)
	}
	if !resp.OK {
		return fmt.Errorf("%s: %s", cmd, resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", cmd, err)
		}
	}
	return nil
}

// Call is the one-shot convenience used by CLI commands.
func Call(port int, cmd string, args any, out any) error {
	c, err := Dial(port)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Call(cmd, args, out)
}
