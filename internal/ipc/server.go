package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Server accepts control connections and queues their commands for the
// scheduling loop.
type Server struct {
	log      *slog.Logger
	listener net.Listener
	queue    chan Envelope

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
}

// NewServer binds the loopback TCP socket. The returned server owns the
// listener; call Serve to start accepting.
func NewServer(port int, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return &Server{
		log:      log,
		listener: listener,
		queue:    make(chan Envelope, 32),
		conns:    map[net.Conn]struct{}{},
	}, nil
}

// Queue is the channel the scheduling loop drains. Each envelope's Reply
// channel must receive exactly one response.
func (s *Server) Queue() <-chan Envelope {
	return s.queue
}

// Port returns the bound port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until Close. Run it on its own goroutine.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("ipc accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		go s.handle(conn)
	}
}

// handle processes one connection sequentially: read a frame, queue it,
// write the reply. Malformed frames get an error frame and the
// connection stays open.
func (s *Server) handle(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := enc.Encode(Fail("malformed frame: " + err.Error())); err != nil {
				return
			}
			continue
		}
		if req.Cmd == "" {
			if err := enc.Encode(Fail("missing cmd")); err != nil {
				return
			}
			continue
		}

		resp := s.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

// dispatch queues the request for the loop and waits for its reply.
func (s *Server) dispatch(req Request) Response {
	env := Envelope{Req: req, Reply: make(chan Response, 1)}

	select {
	case s.queue <- env:
	case <-time.After(replyTimeout):
		return Fail("daemon busy")
	}

	select {
	case resp := <-env.Reply:
		return resp
	case <-time.After(replyTimeout):
		return Fail("daemon did not respond")
	}
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.listener.Close()
	for _, c := range conns {
		c.Close()
	}
}
