// Package server implements the connection driver from spec §4.8: an
// accept loop plus one goroutine per connection that decodes, dispatches,
// and replies to commands strictly in arrival order.
//
// The accept loop and its signal-driven shutdown descend directly from
// the teacher's RedisProxy.Start()/handleConnection (lukluk-rendang/main.go):
// net.Listen, a logged accept loop, one goroutine per accepted connection,
// and a close-the-listener shutdown trigger. fedis terminates the
// connection's traffic against the local command.Dispatcher instead of
// proxying it to an upstream Redis.
package server

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lassejlv/fedis/internal/command"
	"github.com/lassejlv/fedis/internal/logging"
	"github.com/lassejlv/fedis/internal/resp"
)

// Config carries the resource bounds from spec §5 that belong to the
// connection layer rather than to command dispatch (maxmemory's OOM
// check already lives in command.Dispatch).
type Config struct {
	ListenAddr     string
	MaxConnections int
	MaxRequestSize int64
	IdleTimeout    time.Duration
}

// Server owns the listener and the set of in-flight connection goroutines.
type Server struct {
	cfg        Config
	dispatcher *command.Dispatcher

	mu sync.Mutex
	ln net.Listener

	connSem      chan struct{}
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
	activeConns  atomic.Int64
}

// ActiveConnections reports the current number of connected clients, used
// by internal/metrics as a gauge.
func (s *Server) ActiveConnections() int64 {
	return s.activeConns.Load()
}

// New builds a Server bound to dispatcher. dispatcher is shared with the
// recovery replay path and is assumed already loaded by the time
// ListenAndServe is called.
func New(cfg Config, dispatcher *command.Dispatcher) *Server {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		connSem:    make(chan struct{}, maxConns),
	}
}

// ListenAndServe binds the listener and runs the accept loop until the
// listener is closed by Shutdown, at which point it returns nil.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	logging.Infof("fedis listening on %s", s.cfg.ListenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return nil
			}
			logging.Errorf("accept: %v", err)
			return err
		}

		select {
		case s.connSem <- struct{}{}:
			s.wg.Add(1)
			go s.handle(conn)
		default:
			// max_connections reached (spec §5): reject with an error
			// reply and close rather than accepting unboundedly.
			logging.Warnf("rejecting connection from %s: max_connections reached", conn.RemoteAddr())
			conn.Write(resp.AppendFrame(nil, resp.Err("ERR max number of clients reached")))
			conn.Close()
		}
	}
}

// Shutdown stops accepting new connections and waits up to deadline for
// in-flight connections to finish their current command and exit. Any
// goroutines still running past the deadline are abandoned (spec §5:
// "forced shutdown aborts remaining tasks").
func (s *Server) Shutdown(deadline time.Duration) {
	s.shuttingDown.Store(true)
	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Infof("all connections drained")
	case <-time.After(deadline):
		logging.Warnf("shutdown deadline exceeded, abandoning remaining connections")
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() { <-s.connSem }()
	defer conn.Close()

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	id := s.dispatcher.NextClientID()
	connState := command.NewConnState(id)
	ctx := &command.Context{Dispatcher: s.dispatcher, Conn: connState}

	logging.Debugf("client %d connected from %s", id, conn.RemoteAddr())
	defer logging.Debugf("client %d disconnected", id)

	limits := resp.DefaultLimits()
	maxReq := s.cfg.MaxRequestSize
	if maxReq <= 0 {
		maxReq = 512 << 20
	}

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		if s.cfg.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		frame, consumed, err := resp.Decode(buf, limits)
		if err != nil {
			conn.Write(resp.AppendFrame(nil, resp.Err("ERR Protocol error: "+err.Error())))
			return
		}
		if consumed == 0 {
			if int64(len(buf)) > maxReq {
				conn.Write(resp.AppendFrame(nil, resp.Err("ERR max request size exceeded")))
				return
			}
			n, rerr := conn.Read(chunk)
			if rerr != nil {
				return
			}
			buf = append(buf, chunk[:n]...)
			continue
		}
		buf = buf[consumed:]

		args, ok := frameToArgs(frame)
		if !ok {
			conn.Write(resp.AppendFrame(nil, resp.Err("ERR Protocol error: expected array of bulk strings")))
			return
		}
		if len(args) == 0 {
			continue
		}

		reply := command.Dispatch(ctx, args)
		if _, werr := conn.Write(resp.AppendFrame(nil, reply)); werr != nil {
			return
		}
		if strings.EqualFold(string(args[0]), "QUIT") {
			return
		}
	}
}

func frameToArgs(f resp.Frame) ([][]byte, bool) {
	if f.Type != resp.Array || f.Null {
		return nil, false
	}
	args := make([][]byte, len(f.Array))
	for i, item := range f.Array {
		if item.Type != resp.BulkString || item.Null {
			return nil, false
		}
		args[i] = item.Bulk
	}
	return args, true
}
