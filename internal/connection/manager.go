package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// Manager owns one logical connection to the live-status endpoint.
type Manager interface {
	// Connect opens the connection with credential. It is a no-op while
	// connected or while a dial is already in flight.
	Connect(credential string)

	// Disconnect closes the connection and suppresses reconnection.
	Disconnect()

	// On registers h for messages of type t, or for every message when t is
	// Wildcard.
	On(t MessageType, h Handler) (ListenerID, error)

	// Off removes a registration made with On or OnStateChange. Removing an
	// unknown or already removed ID does nothing.
	Off(id ListenerID)

	// OnStateChange registers l for every state transition. Listeners run
	// one at a time in transition order. A transition made by Connect or
	// Disconnect is delivered before the call returns, unless another
	// goroutine is mid-delivery (for example a handler still running); then
	// that goroutine delivers it once the earlier callbacks finish.
	OnStateChange(l StateListener) ListenerID

	// State returns the current connection state.
	State() State

	// Send writes a message and returns the correlation ID stamped on it.
	Send(t MessageType, payload any) (string, error)

	// Stats returns current statistics.
	Stats() ManagerStats
}

// stopper is satisfied by *time.Timer.
type stopper interface {
	Stop() bool
}

// session is one transport lifetime. Events from a session that is no
// longer current are ignored.
type session struct {
	id         uuid.UUID
	credential string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	transport Transport // nil until the dial succeeds
	openedAt  time.Time
}

// manager implements the Manager interface.
type manager struct {
	cfg    ManagerConfig
	dialer Dialer
	logger *slog.Logger

	backoff   backoff.BackOff
	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu         sync.Mutex
	state      State
	sess       *session
	credential string
	attempts   int
	stopped    bool // Disconnect called; no auto-reconnect
	timer      stopper
	timerGen   uint64
	nextID     ListenerID
	listeners  *registry
	stats      ManagerStats

	callbacks callbackQueue
}

// NewManager creates a new Connection Manager. The manager starts
// disconnected; nothing is dialed until Connect.
func NewManager(cfg ManagerConfig, dialer Dialer, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultManagerConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.StableAfter == 0 {
		cfg.StableAfter = defaults.StableAfter
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReconnectJitter < 0 || cfg.ReconnectJitter >= 1 {
		cfg.ReconnectJitter = 0
	}

	return &manager{
		cfg:     cfg,
		dialer:  dialer,
		logger:  logger,
		backoff: newReconnectBackOff(cfg),
		now:     time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		state:     StateDisconnected,
		listeners: newRegistry(),
	}
}

// newReconnectBackOff waits ReconnectDelay between attempts, spread by
// ReconnectJitter. The interval never grows.
func newReconnectBackOff(cfg ManagerConfig) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.ReconnectDelay,
		RandomizationFactor: cfg.ReconnectJitter,
		Multiplier:          1,
		MaxInterval:         cfg.ReconnectDelay,
	}
	b.Reset()
	return b
}

// Connect opens a new session unless one is already open or opening.
func (m *manager) Connect(credential string) {
	m.mu.Lock()
	m.stopped = false

	if state := m.state; m.sess != nil && (state == StateConnected || state == StateConnecting) {
		m.mu.Unlock()
		m.logger.Debug("connect ignored", "state", state)
		return
	}

	m.attempts = 0
	m.backoff.Reset()
	old, sess := m.startSessionLocked(credential)
	m.mu.Unlock()

	m.launch(old, sess)
}

// Disconnect tears down the session and cancels any pending reconnect.
func (m *manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.stopTimerLocked()
	old := m.detachLocked()
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			m.logger.Debug("close transport", "error", err)
		}
	}
	m.callbacks.drain()

	m.logger.Info("disconnected by caller")
}

// On registers a message handler.
func (m *manager) On(t MessageType, h Handler) (ListenerID, error) {
	if h == nil {
		return 0, ErrNilHandler
	}
	if t != Wildcard && !t.Known() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMessageType, t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners.add(id, t, h)
	return id, nil
}

// Off removes a handler or state listener.
func (m *manager) Off(id ListenerID) {
	m.mu.Lock()
	m.listeners.remove(id)
	m.mu.Unlock()
}

// OnStateChange registers a state listener.
func (m *manager) OnStateChange(l StateListener) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	if l != nil {
		m.listeners.addState(id, l)
	}
	return id
}

// State returns the current state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send encodes and writes an outbound message.
func (m *manager) Send(t MessageType, payload any) (string, error) {
	if !t.Known() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMessageType, t)
	}

	m.mu.Lock()
	if m.state != StateConnected || m.sess == nil || m.sess.transport == nil {
		m.mu.Unlock()
		return "", ErrNotConnected
	}
	tr := m.sess.transport
	m.mu.Unlock()

	correlationID := uuid.NewString()
	data, err := encodeMessage(t, payload, m.now().UnixMilli(), correlationID)
	if err != nil {
		return "", err
	}
	if err := tr.Send(data); err != nil {
		return "", fmt.Errorf("send %s: %w", t, err)
	}
	return correlationID, nil
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.State = m.state
	stats.Attempts = m.attempts
	stats.Listeners = m.listeners.len()
	return stats
}

// startSessionLocked replaces the current session with a fresh one in the
// connecting state. It returns the transport to close and the new session;
// the caller passes both to launch after releasing the lock.
func (m *manager) startSessionLocked(credential string) (Transport, *session) {
	m.stopTimerLocked()
	old := m.detachLocked()

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:         uuid.New(),
		credential: credential,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.sess = sess
	m.credential = credential
	m.setStateLocked(StateConnecting)

	return old, sess
}

// launch closes the previous transport before the new dial starts, so at
// most one transport is live.
func (m *manager) launch(old Transport, sess *session) {
	if old != nil {
		if err := old.Close(); err != nil {
			m.logger.Debug("close previous transport", "error", err)
		}
	}
	m.callbacks.drain()

	go m.run(sess)
}

// detachLocked drops the current session and returns its transport.
func (m *manager) detachLocked() Transport {
	sess := m.sess
	if sess == nil {
		return nil
	}
	m.sess = nil
	sess.cancel()
	close(sess.done)
	return sess.transport
}

func (m *manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

// setStateLocked records a transition and queues state listeners.
func (m *manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to

	m.logger.Debug("state changed", "from", from, "to", to)

	entries := m.listeners.stateListeners()
	if len(entries) == 0 {
		return
	}
	m.callbacks.push(func() {
		for _, e := range entries {
			if !m.registered(e.id) {
				continue
			}
			m.safeCall(e.id, func() { e.l(from, to) })
		}
	})
}

// run dials and then pumps transport events into the state machine.
func (m *manager) run(sess *session) {
	logger := m.logger.With("session", sess.id)

	url, err := BuildURL(m.cfg.BaseURL, sess.credential)
	if err != nil {
		logger.Warn("cannot build socket url", "error", err)
		m.handleFailure(sess, err)
		return
	}

	ctx, cancel := context.WithTimeout(sess.ctx, m.cfg.DialTimeout)
	tr, err := m.dialer.Dial(ctx, url)
	cancel()
	if err != nil {
		logger.Warn("dial failed", "error", err)
		m.handleFailure(sess, err)
		return
	}

	if !m.handleOpen(sess, tr) {
		tr.Close()
		return
	}
	logger.Info("connected", "url", redactURL(url))

	m.pump(sess, tr)
}

// pump forwards messages until the transport fails or the session ends.
func (m *manager) pump(sess *session, tr Transport) {
	for {
		select {
		case <-sess.done:
			return

		case err := <-tr.Errors():
			// Frames read before the failure are delivered first.
			m.drainMessages(sess, tr)
			if errors.Is(err, ErrPeerClosed) {
				m.handleClose(sess, err)
			} else {
				m.handleFailure(sess, err)
			}
			return

		case msg := <-tr.Messages():
			m.handleMessage(sess, msg)
		}
	}
}

func (m *manager) drainMessages(sess *session, tr Transport) {
	for {
		select {
		case msg := <-tr.Messages():
			m.handleMessage(sess, msg)
		default:
			return
		}
	}
}

// handleOpen installs tr as the live transport. It reports false when sess
// was superseded while dialing.
func (m *manager) handleOpen(sess *session, tr Transport) bool {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return false
	}
	sess.transport = tr
	sess.openedAt = m.now()
	m.stopTimerLocked()
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.callbacks.drain()
	return true
}

// handleMessage decodes a frame and queues delivery to matching handlers.
func (m *manager) handleMessage(sess *session, raw TimestampedMessage) {
	msg, err := decodeMessage(raw.Data)

	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}
	m.stats.MessagesReceived++
	if err != nil {
		m.stats.DecodeFailures++
		m.mu.Unlock()
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(raw.Data))
		return
	}
	if !msg.Type.Known() {
		m.stats.UnknownTypes++
		m.logger.Debug("unknown message type", "type", msg.Type)
	}

	entries := m.listeners.matching(msg.Type)
	if len(entries) > 0 {
		m.callbacks.push(func() {
			for _, e := range entries {
				if !m.registered(e.id) {
					continue
				}
				m.safeCall(e.id, func() { e.h(msg) })
			}
		})
	}
	m.mu.Unlock()

	m.callbacks.drain()
}

// handleFailure reports an error followed by the close it causes.
func (m *manager) handleFailure(sess *session, err error) {
	m.handleError(sess, err)
	m.handleClose(sess, err)
}

func (m *manager) handleError(sess *session, err error) {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateError)
	m.mu.Unlock()

	m.logger.Warn("connection error", "session", sess.id, "error", err)
	m.callbacks.drain()
}

// handleClose moves to disconnected and schedules a reconnect unless the
// caller disconnected or the attempts are exhausted.
func (m *manager) handleClose(sess *session, cause error) {
	m.mu.Lock()
	if m.sess != sess {
		m.mu.Unlock()
		return
	}

	tr := m.detachLocked()
	m.setStateLocked(StateDisconnected)

	if m.cfg.StableAfter > 0 && !sess.openedAt.IsZero() && m.now().Sub(sess.openedAt) >= m.cfg.StableAfter {
		m.attempts = 0
		m.backoff.Reset()
	}

	switch {
	case m.stopped:
	case m.attempts >= m.cfg.MaxAttempts:
		m.logger.Warn("reconnect attempts exhausted",
			"attempts", m.attempts,
			"max_attempts", m.cfg.MaxAttempts,
			"cause", cause,
		)
	default:
		m.scheduleLocked()
	}
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	m.callbacks.drain()
}

// scheduleLocked arms the single reconnect timer.
func (m *manager) scheduleLocked() {
	m.stopTimerLocked()
	m.attempts++
	m.stats.ReconnectsScheduled++

	delay := m.backoff.NextBackOff()
	gen := m.timerGen

	m.logger.Info("scheduling reconnect",
		"attempt", m.attempts,
		"max_attempts", m.cfg.MaxAttempts,
		"delay", delay,
	)

	m.timer = m.afterFunc(delay, func() { m.reconnect(gen) })
}

// reconnect runs when the timer fires. A timer from an older generation
// was cancelled and does nothing.
func (m *manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen || m.stopped || m.sess != nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil

	m.logger.Info("attempting reconnection", "attempt", m.attempts)
	old, sess := m.startSessionLocked(m.credential)
	m.mu.Unlock()

	m.launch(old, sess)
}

func (m *manager) registered(id ListenerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listeners.has(id)
}

// safeCall runs a listener, recovering from panics so other listeners and
// the connection are unaffected.
func (m *manager) safeCall(id ListenerID, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.stats.ListenerPanics++
			m.mu.Unlock()
			m.logger.Error("listener panicked", "listener", id, "panic", r)
		}
	}()
	fn()
}
