// Package server implements the relay ingress: a TCP/TLS listener that
// accepts NUL-delimited GELF frames and re-ships each frame to the
// collector through the transport.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"

	"github.com/romejiang/gelfrelay/internal/acl"
	"github.com/romejiang/gelfrelay/internal/circuitbreaker"
	"github.com/romejiang/gelfrelay/internal/metrics"
)

// DefaultMaxFrameBytes is the default maximum size of a single GELF frame.
const DefaultMaxFrameBytes = 1 << 20

// ErrFrameTooLarge is reported when an incoming frame exceeds the limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

var errDeliveryFailed = errors.New("delivery failed")

// Shipper delivers one payload to the collector, reporting whether it
// arrived. The transport's Sender satisfies this.
type Shipper interface {
	Send(ctx context.Context, payload []byte) bool
}

// DeadLetter receives frames that were rejected without a delivery
// attempt, such as while the circuit breaker is open.
type DeadLetter interface {
	Write(target string, payload []byte, err error) error
}

// Config contains ingress configuration.
type Config struct {
	ListenAddr    string
	TLSCertFile   string
	TLSKeyFile    string
	MaxFrameBytes int

	// CollectorAddr is recorded as the target on dead-lettered frames.
	CollectorAddr string
}

// Server accepts GELF frames over TCP and re-ships them.
type Server struct {
	config   Config
	acl      *acl.List
	shipper  Shipper
	breaker  *circuitbreaker.Breaker
	dlq      DeadLetter
	listener net.Listener
}

// New creates an ingress server. The breaker and dead letter queue are
// optional; a nil breaker attempts every delivery.
func New(config Config, aclList *acl.List, shipper Shipper, breaker *circuitbreaker.Breaker, dlq DeadLetter) *Server {
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if aclList == nil {
		aclList, _ = acl.New("")
	}
	return &Server{
		config:  config,
		acl:     aclList,
		shipper: shipper,
		breaker: breaker,
		dlq:     dlq,
	}
}

// Start binds the listener and begins accepting in the background.
func (s *Server) Start() error {
	var err error

	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return err
		}

		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}

		s.listener, err = tls.Listen("tcp", s.config.ListenAddr, tlsConfig)
		if err != nil {
			return err
		}
		slog.Info("ingress listening", "addr", s.config.ListenAddr, "tls_enabled", true)
	} else {
		s.listener, err = net.Listen("tcp", s.config.ListenAddr)
		if err != nil {
			return err
		}
		slog.Info("ingress listening", "addr", s.config.ListenAddr, "tls_enabled", false)
	}

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

// Stop closes the listener. Connections already accepted drain on their
// own when the peer closes.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("accept error", "error", err)
			continue
		}

		if !s.remoteAllowed(conn) {
			metrics.ConnectionsRejected.Add(1)
			slog.Warn("connection denied by ACL", "client_addr", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		metrics.ConnectionsAccepted.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) remoteAllowed(conn net.Conn) bool {
	ap, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return false
	}
	return s.acl.Allows(ap.Addr())
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	clientAddr := conn.RemoteAddr().String()
	slog.Debug("connection accepted", "client_addr", clientAddr)

	br := bufio.NewReader(conn)
	for {
		frame, err := readFrame(br, s.config.MaxFrameBytes)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				slog.Debug("connection closed", "client_addr", clientAddr)
				return
			case errors.Is(err, ErrFrameTooLarge):
				slog.Warn("oversized frame skipped", "client_addr", clientAddr, "max_bytes", s.config.MaxFrameBytes)
				continue
			default:
				slog.Warn("read error", "client_addr", clientAddr, "error", err)
				return
			}
		}

		metrics.FramesReceived.Add(1)
		s.deliver(frame)
	}
}

// deliver hands one frame to the shipper, going through the circuit
// breaker when one is configured. While the breaker is open, frames
// spill straight to the dead letter queue instead of burning the retry
// budget against a collector known to be down.
func (s *Server) deliver(frame []byte) {
	if s.breaker == nil {
		s.shipper.Send(context.Background(), frame)
		return
	}

	err := s.breaker.Call(func() error {
		if !s.shipper.Send(context.Background(), frame) {
			return errDeliveryFailed
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) && s.dlq != nil {
		if derr := s.dlq.Write(s.config.CollectorAddr, frame, err); derr != nil {
			slog.Error("dead letter write failed", "error", derr)
		}
	}
}

// readFrame reads one NUL-terminated frame and returns it without the
// terminator. Frames longer than max are consumed to the next terminator
// and reported as ErrFrameTooLarge. A partial frame at EOF is dropped.
func readFrame(br *bufio.Reader, max int) ([]byte, error) {
	var buf []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if b == 0x00 {
			return buf, nil
		}
		if len(buf) >= max {
			for {
				b, err := br.ReadByte()
				if err != nil {
					return nil, err
				}
				if b == 0x00 {
					break
				}
			}
			return nil, ErrFrameTooLarge
		}
		buf = append(buf, b)
	}
}
