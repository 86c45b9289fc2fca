package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// fakeStream is an in-memory writable stream that records writes and
// closes, and can be configured to fail.
type fakeStream struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	writes   int
	writeErr error
	closes   int
	closeErr error

	// slow stretches each write so overlapping callers would be caught.
	slow    time.Duration
	active  int32
	overlap atomic.Bool
}

func (s *fakeStream) Write(p []byte) (int, error) {
	if atomic.AddInt32(&s.active, 1) != 1 {
		s.overlap.Store(true)
	}
	defer atomic.AddInt32(&s.active, -1)

	if s.slow > 0 {
		time.Sleep(s.slow)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.buf.Write(p)
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return s.closeErr
}

func (s *fakeStream) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func (s *fakeStream) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeDialer hands out fakeStreams and can fail the first N dials or all
// of them. writeErrs configures the write error of the i-th created
// stream.
type fakeDialer struct {
	mu          sync.Mutex
	dials       int
	failFirst   int
	failAll     bool
	writeErrs   []error
	slow        time.Duration
	streams     []*fakeStream
	lastTimeout time.Duration
}

func (d *fakeDialer) Dial(ep Endpoint, timeout time.Duration) (io.WriteCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	d.lastTimeout = timeout
	if d.failAll || d.dials <= d.failFirst {
		return nil, errors.New("connection refused")
	}

	st := &fakeStream{slow: d.slow}
	if n := len(d.streams); n < len(d.writeErrs) {
		st.writeErr = d.writeErrs[n]
	}
	d.streams = append(d.streams, st)
	return st, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) stream(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

func (d *fakeDialer) streamCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// recordSink captures error reports for assertions.
type recordSink struct {
	mu      sync.Mutex
	reports []string
}

func (s *recordSink) Report(msg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, fmt.Sprintf("%s: %v", msg, err))
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

// fakeClock is a manually advanced clock for deadline tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// sleepRecorder replaces the sender's inter-retry sleep so tests run
// without real delays.
type sleepRecorder struct {
	mu      sync.Mutex
	delays  []time.Duration
	err     error
	onSleep func()
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	hook := r.onSleep
	err := r.err
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (r *sleepRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delays)
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// testEndpoint is the collector identity used across the transport tests.
var testEndpoint = Endpoint{Host: "graylog.example", Port: 12201}
