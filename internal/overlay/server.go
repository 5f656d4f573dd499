// Package overlay wires a node's topology, datasource, admission,
// cache, forwarding, and metrics together behind internal/wire's
// framed TCP protocol. It is the process-local counterpart of the
// teacher's cmd/snellerd server: one listener, one connection handler
// dispatching on message type, graceful shutdown via context
// cancellation.
package overlay

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/aq-overlay/overlay/internal/orchestrator"
	"github.com/aq-overlay/overlay/internal/wire"
)

// Server accepts connections from neighbor processes (and from any
// client speaking the same framing) and dispatches each frame to the
// orchestrator.
type Server struct {
	orch   *orchestrator.Orchestrator
	logger *log.Logger

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	shutdown bool
}

// New builds a Server bound to orch.
func New(orch *orchestrator.Orchestrator, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{orch: orch, logger: logger, conns: make(map[net.Conn]struct{})}
}

// Serve accepts connections on ln until ctx is canceled or ln.Accept
// fails. It blocks until all accepted connections have been closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if s.isShuttingDown() {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.untrackConn(conn)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) trackConn(c net.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	for {
		msgType, payload, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Printf("overlay: connection from %s ended: %v", conn.RemoteAddr(), err)
			}
			return
		}
		resp, respType, err := s.dispatch(msgType, payload)
		if err != nil {
			s.logger.Printf("overlay: dispatching %v from %s: %v", msgType, conn.RemoteAddr(), err)
			return
		}
		if err := wire.WriteFrame(conn, respType, resp); err != nil {
			s.logger.Printf("overlay: writing response to %s: %v", conn.RemoteAddr(), err)
			return
		}
		if msgType == wire.MsgShutdownRequest {
			return
		}
	}
}
