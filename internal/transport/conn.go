package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/romejiang/gelfrelay/internal/metrics"
)

// farFuture disables rotation when the reconnect interval is negative.
var farFuture = time.Unix(1<<62, 0)

// ConnectError reports a failed dial to the collector.
type ConnectError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to tcp://%s: %v", e.Endpoint.Addr(), e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ManagerConfig contains the connection lifecycle settings.
type ManagerConfig struct {
	// ConnectTimeout bounds the dial. Zero disables the timeout.
	ConnectTimeout time.Duration

	// ReconnectInterval is how long an established connection is used
	// before it is closed and re-opened. A negative value disables
	// rotation; zero rotates on every call after the first.
	ReconnectInterval time.Duration
}

// Manager owns the single outbound connection to the collector: the live
// stream, its rotation deadline, and the connect/close lifecycle. At most
// one connection is live at a time; the old one is always closed before a
// replacement is dialed.
//
// Manager is not internally locked. All access happens inside the Sender's
// exclusive critical section, which guards connection state, the rotation
// deadline, and the socket write as one unit.
type Manager struct {
	endpoint Endpoint
	dialer   Dialer
	cfg      ManagerConfig
	sink     ErrorSink
	now      func() time.Time

	stream io.WriteCloser

	// nextReconnect is the instant after which Ensure must redial before
	// handing out the stream. The zero value is already expired, so the
	// first Ensure always dials.
	nextReconnect time.Time
}

// NewManager creates a connection manager for the given endpoint. A nil
// dialer defaults to plain TCP; a nil sink defaults to slog.
func NewManager(endpoint Endpoint, dialer Dialer, cfg ManagerConfig, sink ErrorSink) *Manager {
	if dialer == nil {
		dialer = NetDialer{}
	}
	if sink == nil {
		sink = SlogSink{}
	}
	return &Manager{
		endpoint: endpoint,
		dialer:   dialer,
		cfg:      cfg,
		sink:     sink,
		now:      time.Now,
	}
}

// Endpoint returns the collector endpoint this manager dials.
func (m *Manager) Endpoint() Endpoint {
	return m.endpoint
}

// Ensure returns a writable stream to the collector, dialing a fresh
// connection when none exists, when the rotation deadline has passed, or
// after ForceReconnect. On dial failure it returns a *ConnectError and
// leaves the deadline expired so the next call retries immediately.
//
// Writes on the returned stream carry no explicit timeout; a hung peer
// blocks the critical section until the kernel reports the write.
func (m *Manager) Ensure() (io.Writer, error) {
	if m.now().After(m.nextReconnect) {
		if err := m.reconnect(); err != nil {
			return nil, err
		}
	}
	return m.stream, nil
}

// reconnect closes any existing stream and dials a replacement, computing
// the next rotation deadline on success.
func (m *Manager) reconnect() error {
	m.closeStream()

	metrics.DialAttempts.Add(1)
	stream, err := m.dialer.Dial(m.endpoint, m.cfg.ConnectTimeout)
	if err != nil {
		metrics.DialFailures.Add(1)
		return &ConnectError{Endpoint: m.endpoint, Err: err}
	}
	m.stream = stream
	metrics.Reconnects.Add(1)

	if m.cfg.ReconnectInterval < 0 {
		m.nextReconnect = farFuture
	} else {
		m.nextReconnect = m.now().Add(m.cfg.ReconnectInterval)
	}
	return nil
}

// ForceReconnect marks the rotation deadline expired so the next Ensure
// call dials a fresh connection regardless of schedule. The Sender calls
// this after every write failure.
func (m *Manager) ForceReconnect() {
	m.nextReconnect = time.Time{}
	metrics.ForcedReconnects.Add(1)
}

// Close releases the current connection if one exists. It is idempotent;
// close failures are reported to the error sink and never returned.
func (m *Manager) Close() {
	m.closeStream()
}

func (m *Manager) closeStream() {
	if m.stream == nil {
		return
	}
	if err := m.stream.Close(); err != nil {
		m.sink.Report(fmt.Sprintf("closing stream to tcp://%s", m.endpoint.Addr()), err)
	}
	m.stream = nil
}
