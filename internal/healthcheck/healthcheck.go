// Package healthcheck provides a TCP liveness endpoint for the relay.
// Load balancers and monitors connect; the server completes the handshake
// and immediately closes, signalling the process is alive.
package healthcheck

import (
	"log/slog"
	"net"
)

// Server is a minimal accept-and-close TCP healthcheck listener.
type Server struct {
	addr     string
	listener net.Listener
	stop     chan struct{}
}

// New creates a healthcheck server for the given address.
func New(addr string) *Server {
	return &Server{
		addr: addr,
		stop: make(chan struct{}),
	}
}

// Start begins listening in the background.
func (s *Server) Start() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	slog.Debug("healthcheck server started", "addr", s.addr)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and ends the accept loop.
func (s *Server) Stop() error {
	close(s.stop)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
				slog.Debug("healthcheck accept error", "error", err)
				continue
			}
		}

		// Completing the handshake is the whole protocol.
		slog.Debug("healthcheck request", "client_addr", conn.RemoteAddr().String())
		_ = conn.Close()
	}
}
