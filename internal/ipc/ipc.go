// Package ipc implements the consume daemon's local control protocol:
// line-framed JSON request/response over a TCP socket bound to loopback.
// A request is {"cmd": "...", "args": {...}}; a response is
// {"ok": true, "data": ...} or {"ok": false, "error": "..."}.
//
// The server never executes commands itself. Each request is queued onto
// the scheduling loop, which is the sole mutator of daemon state, and the
// connection goroutine waits for the loop's reply.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request is one decoded command frame.
type Request struct {
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is one reply frame.
type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Ok builds a success response around any JSON-encodable payload.
func Ok(data any) Response {
	if data == nil {
		return Response{OK: true}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Fail(fmt.Sprintf("encode response: %v", err))
	}
	return Response{OK: true, Data: b}
}

// Fail builds an error response.
func Fail(msg string) Response {
	return Response{OK: false, Error: msg}
}

// Envelope pairs a request with the channel its reply goes back on.
type Envelope struct {
	Req   Request
	Reply chan Response
}

// replyTimeout bounds how long a connection waits for the loop. A tick
// normally services the queue within a second.
const replyTimeout = 15 * time.Second
