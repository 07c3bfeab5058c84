// Package transport owns the single live push connection for a session.
//
// Every other component talks to the connection exclusively through the
// Manager's Send/subscribe contract — nobody else ever holds the handle.
// That one rule is what prevents duplicate-listener leaks across
// reconnects: subscribers register once with the Manager (which outlives
// connections), never with a connection (which doesn't).
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalith-99/chatlink/auth"
	"github.com/lalith-99/chatlink/config"
	"github.com/lalith-99/chatlink/models"
)

var (
	// ErrBlocked means the circuit breaker has tripped for the current
	// credential. Nothing goes out — not even a retry — until Connect is
	// called with a different token.
	ErrBlocked = errors.New("connection blocked: re-authentication required")

	// ErrNotConnected means an outbound frame was attempted with no live
	// connection. Transient; the caller may retry after Connected.
	ErrNotConnected = errors.New("not connected")
)

// Manager maintains at most one live websocket connection per session.
//
// All the module-level state the surface used to scatter (socket handle,
// retry counters, auth-failure counters) lives here as fields with one
// documented lifecycle: created at session start, torn down at logout.
type Manager struct {
	opts   *config.Options
	logger *zap.Logger
	rooms  *Membership

	mu    sync.Mutex
	conn  *websocket.Conn
	state models.ConnState
	token string

	// gen distinguishes connections: a read loop that exits after its
	// connection was replaced must not tear down the replacement.
	gen int

	// Breaker bookkeeping. authFailures counts CONSECUTIVE credential
	// rejections (a success resets it); blockedToken remembers which
	// credential earned the Blocked state so a genuinely fresh one can
	// clear it.
	authFailures int
	blockedToken string

	closed   bool
	retrying bool
	dialing  bool

	onMessage []func(models.Message)
	onState   []func(models.ConnState)
}

func NewManager(opts *config.Options, logger *zap.Logger) *Manager {
	m := &Manager{
		opts:   opts,
		logger: logger,
		state:  models.StateDisconnected,
	}
	m.rooms = newMembership(m.Send, logger)
	return m
}

// Rooms exposes the membership tracker so the directory can feed it the
// desired room set. Join traffic still flows through this Manager.
func (m *Manager) Rooms() *Membership {
	return m.rooms
}

// State returns the current connection state.
func (m *Manager) State() models.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnMessage registers a subscriber for inbound message pushes. Registrations
// are per-Manager, not per-connection: they survive every reconnect.
func (m *Manager) OnMessage(fn func(models.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = append(m.onMessage, fn)
}

// OnStateChange registers a subscriber for connection state transitions.
func (m *Manager) OnStateChange(fn func(models.ConnState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, fn)
}

// Connect establishes the push connection with the given bearer credential.
//
// No-op when a live connection already exists. A stale handle is torn down
// first. While Blocked, the same credential is rejected locally without a
// network round-trip; a different credential resets the breaker and tries
// again. A transient dial failure returns the error AND starts the bounded
// background retry loop.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.state == models.StateBlocked {
		if token == m.blockedToken {
			m.mu.Unlock()
			return ErrBlocked
		}
		m.authFailures = 0
		m.blockedToken = ""
	}
	if m.conn != nil && m.state == models.StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.token = token
	m.closed = false
	m.mu.Unlock()

	err := m.attempt(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrBlocked) {
		m.startRetry()
	}
	return err
}

// Disconnect tears the connection down deliberately: the handle is always
// closed, error paths included, and no automatic reconnection follows.
// Subscriber registrations are untouched — they belong to the Manager.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	alreadyDown := m.state == models.StateDisconnected || m.state == models.StateBlocked
	m.mu.Unlock()

	if !alreadyDown {
		m.setState(models.StateDisconnected)
	}
}

// Send writes one frame. Rejected locally while Blocked (breaker open) or
// without a live connection — no half-dead socket writes.
func (m *Manager) Send(ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == models.StateBlocked {
		return ErrBlocked
	}
	if m.conn == nil || m.state != models.StateConnected {
		return ErrNotConnected
	}
	// WriteJSON under mu: gorilla connections allow one concurrent writer.
	if err := m.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// attempt makes exactly one dial. It classifies the failure: credential
// rejections feed the breaker, everything else is transient and left to
// the caller's retry policy.
//
// Attempts are single-flight: a Connect racing the background retry loop
// (or a second concurrent Connect) coalesces into the dial already in
// flight instead of opening a second connection behind its back.
func (m *Manager) attempt(ctx context.Context) error {
	m.mu.Lock()
	if m.dialing || m.conn != nil {
		// A dial is already in flight or a connection is already
		// installed. Coalesce instead of opening a second one.
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.dialing = false
		m.mu.Unlock()
	}()

	m.setState(models.StateConnecting)

	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	// A token we can already see is expired gets failed locally. Cheaper
	// than a handshake the server rejects, and it counts the same.
	if auth.Expired(token) {
		return m.recordAuthFailure(fmt.Errorf("token expired: %w", auth.ErrCredential))
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.opts.ConnectTimeout}
	header := http.Header{"Authorization": {"Bearer " + token}}

	conn, resp, err := dialer.DialContext(ctx, m.opts.PushURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return m.recordAuthFailure(fmt.Errorf("handshake rejected: %w", auth.ErrCredential))
		}
		m.setState(models.StateDisconnected)
		return fmt.Errorf("dial push endpoint: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		// Disconnect raced the dial. Honor it.
		m.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	if m.conn != nil {
		// One live connection per session. Whatever handle is still
		// installed here is superseded; its read loop exits on the close
		// and the gen check keeps it from touching the replacement.
		m.conn.Close()
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.authFailures = 0
	m.mu.Unlock()

	m.setState(models.StateConnected)
	m.logger.Info("push connection established", zap.String("endpoint", m.opts.PushURL))

	// Room membership does not survive a reconnect server-side, so every
	// Connected transition re-establishes the full desired set.
	m.rooms.rejoin()

	go m.readLoop(conn, gen)
	return nil
}

// recordAuthFailure counts one consecutive credential rejection and trips
// the breaker at the configured threshold.
func (m *Manager) recordAuthFailure(cause error) error {
	m.mu.Lock()
	m.authFailures++
	failures := m.authFailures
	tripped := failures >= m.opts.AuthFailureThreshold
	if tripped {
		m.blockedToken = m.token
	}
	m.mu.Unlock()

	if tripped {
		m.logger.Warn("auth failure threshold reached, blocking connection",
			zap.Int("failures", failures),
		)
		m.setState(models.StateBlocked)
		return fmt.Errorf("%w: %w", ErrBlocked, cause)
	}

	m.logger.Warn("authentication failed",
		zap.Int("consecutive_failures", failures),
		zap.Error(cause),
	)
	m.setState(models.StateDisconnected)
	return cause
}

// readLoop drains one connection until it dies, fanning message events out
// to subscribers. On an unexpected death it kicks off the bounded retry.
func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		if ev.Type == models.EventMessage && ev.Message != nil {
			m.fanOut(*ev.Message)
		}
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		// Superseded by a newer connection, or a deliberate Disconnect.
		// Either way this loop owns nothing anymore.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	blocked := m.state == models.StateBlocked
	m.mu.Unlock()

	if blocked {
		return
	}
	m.logger.Warn("push connection lost")
	m.setState(models.StateDisconnected)
	m.startRetry()
}

// startRetry launches the bounded fixed-delay reconnect loop, at most one
// at a time.
func (m *Manager) startRetry() {
	m.mu.Lock()
	if m.retrying || m.closed || m.state == models.StateBlocked {
		m.mu.Unlock()
		return
	}
	m.retrying = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.retrying = false
			m.mu.Unlock()
		}()

		for i := 1; i <= m.opts.MaxReconnectAttempts; i++ {
			time.Sleep(m.opts.ReconnectDelay)

			m.mu.Lock()
			stop := m.closed || m.state == models.StateBlocked || m.state == models.StateConnected
			m.mu.Unlock()
			if stop {
				return
			}

			if err := m.attempt(context.Background()); err == nil {
				return
			} else if errors.Is(err, ErrBlocked) {
				return
			}

			m.logger.Info("reconnect attempt failed",
				zap.Int("attempt", i),
				zap.Int("max", m.opts.MaxReconnectAttempts),
			)
		}

		// Give up quietly. The surface shows a disconnected indicator;
		// a user action (or re-login) calls Connect again.
		m.logger.Warn("reconnect attempts exhausted")
	}()
}

func (m *Manager) fanOut(msg models.Message) {
	m.mu.Lock()
	subs := make([]func(models.Message), len(m.onMessage))
	copy(subs, m.onMessage)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(msg)
	}
}

// setState records the transition and notifies subscribers OUTSIDE the
// lock — a subscriber is allowed to call back into the Manager.
func (m *Manager) setState(s models.ConnState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	subs := make([]func(models.ConnState), len(m.onState))
	copy(subs, m.onState)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}
