// Package transport delivers GELF payloads to a remote collector over a
// persistent TCP connection. It owns the connection lifecycle (bounded
// dials, scheduled rotation, forced reconnects after failures) and a
// bounded retry loop; all socket access is serialized through a single
// lock so concurrent senders can never interleave frames.
package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/romejiang/gelfrelay/internal/metrics"
)

// Config contains the retry policy for the sender.
type Config struct {
	// MaxRetries is the number of additional attempts after the first.
	// Zero disables retries.
	MaxRetries int

	// RetryDelay is the pause between attempts. Zero retries immediately.
	RetryDelay time.Duration
}

// DeadLetter receives payloads that were dropped after the retry budget
// was spent. Implementations must be safe for concurrent use.
type DeadLetter interface {
	Write(target string, payload []byte, err error) error
}

// Sender delivers payloads to the collector with bounded retries.
// It is safe for concurrent use; every connect and write happens inside
// one exclusive critical section, so frames from concurrent callers reach
// the wire whole and in lock-acquisition order.
type Sender struct {
	mu      sync.Mutex
	conn    *Manager
	cfg     Config
	sink    ErrorSink
	dlq     DeadLetter
	started atomic.Bool

	// sleep pauses between retries and is cancellable via ctx.
	// Injected so tests can simulate delays and interruption.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a started sender delivering through the given connection
// manager. A nil sink defaults to slog.
func New(conn *Manager, cfg Config, sink ErrorSink) *Sender {
	if sink == nil {
		sink = SlogSink{}
	}
	s := &Sender{
		conn:  conn,
		cfg:   cfg,
		sink:  sink,
		sleep: sleepContext,
	}
	s.started.Store(true)
	return s
}

// SetDeadLetter routes dropped payloads to dl. Call before the first Send.
func (s *Sender) SetDeadLetter(dl DeadLetter) {
	s.dlq = dl
}

// Send delivers one payload, appending the single NUL byte that terminates
// a GELF frame on the wire. It returns true when the payload reached the
// collector and false when it was dropped, either because the retry budget
// was spent or because ctx was cancelled during an inter-retry pause.
// Failures are reported through the error sink and never returned: log
// delivery must not disrupt the caller.
func (s *Sender) Send(ctx context.Context, payload []byte) bool {
	// GELF over TCP delimits frames with a trailing 0x00. The copy also
	// keeps socket-level mutation away from the caller's bytes.
	wire := make([]byte, len(payload)+1)
	copy(wire, payload)

	retries := s.cfg.MaxRetries
	var lastErr error
	for {
		err := s.trySend(wire)
		if err == nil {
			metrics.MessagesSent.Add(1)
			metrics.BytesSent.Add(int64(len(wire)))
			return true
		}
		lastErr = err

		if s.cfg.RetryDelay > 0 && retries > 0 {
			if s.sleep(ctx, s.cfg.RetryDelay) != nil {
				// Cancelled mid-pause: give up on this payload without
				// attempting further sends.
				break
			}
		}
		retries--
		if retries < 0 || !s.started.Load() {
			break
		}
		metrics.SendRetries.Add(1)
	}

	metrics.MessagesDropped.Add(1)
	if s.dlq != nil {
		if derr := s.dlq.Write(s.conn.Endpoint().Addr(), payload, lastErr); derr != nil {
			s.sink.Report("writing dropped payload to dead letter queue", derr)
		}
	}
	return false
}

// trySend performs a single delivery attempt. Connection state, the
// rotation deadline and the socket write all live inside this one
// critical section; splitting it would reintroduce torn writes.
func (s *Sender) trySend(wire []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, err := s.conn.Ensure()
	if err != nil {
		s.sink.Report(fmt.Sprintf("error connecting to tcp://%s", s.conn.Endpoint().Addr()), err)
		s.conn.ForceReconnect()
		return err
	}

	if _, err := stream.Write(wire); err != nil {
		s.sink.Report(fmt.Sprintf("error sending message via tcp://%s", s.conn.Endpoint().Addr()), err)
		s.conn.ForceReconnect()
		return err
	}
	return nil
}

// Close stops the sender and releases the collector connection. In-flight
// retry loops observe the stopped state between attempts and give up
// promptly. Close is idempotent.
func (s *Sender) Close() {
	s.started.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}

// sleepContext pauses for d or until ctx is cancelled, whichever comes
// first.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
