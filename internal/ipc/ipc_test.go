package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"
)

// testServer starts a server on an ephemeral port with a canned handler
// draining the queue.
func testServer(t *testing.T, handler func(Request) Response) *Server {
	t.Helper()
	s, err := NewServer(0, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go s.Serve()
	go func() {
		for env := range s.Queue() {
			env.Reply <- handler(env.Req)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

func TestClient_RoundTrip(t *testing.T) {
	s := testServer(t, func(req Request) Response {
		if req.Cmd != "ping" {
			return Fail("unexpected cmd " + req.Cmd)
		}
		return Ok("pong")
	})

	var out string
	if err := Call(s.Port(), "ping", nil, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != "pong" {
		t.Errorf("got %q", out)
	}
}

func TestClient_ArgsDelivered(t *testing.T) {
	s := testServer(t, func(req Request) Response {
		var args map[string]bool
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return Fail("bad args")
		}
		return Ok(args["graceful"])
	})

	var out bool
	if err := Call(s.Port(), "stop", map[string]bool{"graceful": true}, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !out {
		t.Error("args not round-tripped")
	}
}

func TestClient_ErrorResponse(t *testing.T) {
	s := testServer(t, func(req Request) Response {
		return Fail("nope")
	})

	err := Call(s.Port(), "anything", nil, nil)
	if err == nil {
		t.Fatal("expected error from ok=false response")
	}
}

func TestServer_MalformedFrameKeepsConnection(t *testing.T) {
	s := testServer(t, func(req Request) Response {
		return Ok("fine")
	})

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	// Garbage frame gets an error frame back.
	fmt.Fprintln(conn, "{not json")
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK {
		t.Error("malformed frame should produce ok=false")
	}

	// Same connection still serves valid requests.
	fmt.Fprintln(conn, `{"cmd":"ping"}`)
	line, err = r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("connection closed after malformed frame: %v", err)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK {
		t.Errorf("valid request after garbage failed: %+v", resp)
	}
}

func TestServer_MissingCmd(t *testing.T) {
	s := testServer(t, func(req Request) Response {
		return Ok(nil)
	})

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintln(conn, `{"args":{}}`)
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OK {
		t.Error("empty cmd should produce ok=false")
	}
}
