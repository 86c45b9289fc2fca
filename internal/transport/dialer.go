package transport

import (
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"time"
)

// Endpoint identifies the remote GELF collector. It is immutable for the
// lifetime of the transport.
type Endpoint struct {
	Host string
	Port int
}

// Addr returns the endpoint in host:port form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Dialer opens a connected, writable byte stream to a collector endpoint.
// A timeout of zero means the dial is unbounded and blocks until the
// operating system gives up.
type Dialer interface {
	Dial(ep Endpoint, timeout time.Duration) (io.WriteCloser, error)
}

// NetDialer dials plain TCP connections.
type NetDialer struct{}

// Dial connects to the endpoint with the given connect timeout.
func (NetDialer) Dial(ep Endpoint, timeout time.Duration) (io.WriteCloser, error) {
	return net.DialTimeout("tcp", ep.Addr(), timeout)
}

// TLSDialer dials TLS-wrapped TCP connections to the collector.
// The zero value uses a default configuration with TLS 1.2 minimum.
type TLSDialer struct {
	Config *tls.Config
}

// Dial connects and completes the TLS handshake within the given timeout.
func (d TLSDialer) Dial(ep Endpoint, timeout time.Duration) (io.WriteCloser, error) {
	cfg := d.Config
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	nd := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(nd, "tcp", ep.Addr(), cfg)
}
