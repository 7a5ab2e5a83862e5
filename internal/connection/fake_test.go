package connection

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeTransport is driven by the test in place of a socket.
type fakeTransport struct {
	messages chan TimestampedMessage
	errors   chan error

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messages: make(chan TimestampedMessage, 16),
		errors:   make(chan error, 1),
	}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrAlreadyClosed
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeTransport) Errors() <-chan error                { return f.errors }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) emit(frame string) {
	f.messages <- TimestampedMessage{Data: []byte(frame), ReceivedAt: time.Now()}
}

func (f *fakeTransport) closeFromPeer() {
	f.errors <- ErrPeerClosed
}

func (f *fakeTransport) fail(err error) {
	f.errors <- err
}

// fakeDialer hands out fakeTransports.
type fakeDialer struct {
	mu         sync.Mutex
	urls       []string
	transports []*fakeTransport
	err        error
	gate       chan struct{} // when set, Dial blocks until it is closed
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	gate, err := d.gate, d.err
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	tr := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, tr)
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

// fakeScheduler records reconnect timers instead of running them.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (s *fakeScheduler) afterFunc(d time.Duration, fn func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// fire runs timer i the way time.AfterFunc would, even if it was stopped.
func (s *fakeScheduler) fire(i int) {
	s.timer(i).fn()
}

// stateRecorder collects transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) listen(from, to State) {
	r.mu.Lock()
	r.states = append(r.states, to)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *stateRecorder) last() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return StateDisconnected
	}
	return r.states[len(r.states)-1]
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*manager, *fakeDialer, *fakeScheduler) {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://console.test/ws/status"
	}

	d := &fakeDialer{}
	m := NewManager(cfg, d, discardLogger()).(*manager)
	s := &fakeScheduler{}
	m.afterFunc = s.afterFunc
	t.Cleanup(m.Disconnect)

	return m, d, s
}
