// Package chat is the conversational core: the conversation directory, the
// active-conversation message stream, read-receipt coalescing, the
// notification policy, and the Session that wires them to the transport.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalith-99/chatlink/config"
	"github.com/lalith-99/chatlink/models"
	"github.com/lalith-99/chatlink/rest"
	"github.com/lalith-99/chatlink/transport"
)

// ErrNoSelection is returned by Send when no conversation is active.
var ErrNoSelection = errors.New("no conversation selected")

// Session is the composition root: one per signed-in user, created at
// session start and closed at logout. It owns the transport manager, the
// directory, the stream, the receipt tracker and the notifier, and it is
// the only place push events, user actions and timers meet.
type Session struct {
	opts     *config.Options
	logger   *zap.Logger
	identity models.Identity

	// svc is the collaborator interface every chat operation goes
	// through; api is the concrete REST client behind it when this
	// session was built by NewSession (nil when a test injected its own
	// Service), kept only for credential rotation.
	svc       Service
	api       *rest.Client
	transport *transport.Manager
	directory *Directory
	stream    *Stream
	receipts  *Receipts
	notifier  *Notifier

	mu            sync.Mutex
	markReadTimer *time.Timer
	onNotify      []func(Notification)
	onState       []func(models.ConnState)
}

// NewSession builds a fully wired (but not yet connected) session for the
// given identity and bearer credential. The session/token provider supplies
// both — the core never derives one from the other in production.
func NewSession(opts *config.Options, identity models.Identity, token string, logger *zap.Logger) *Session {
	api := rest.NewClient(opts.RestBaseURL, token, opts.HistoryPageSize, logger)
	s := newSession(opts, identity, api, logger)
	s.api = api
	return s
}

// newSession wires a session around any Service implementation. Tests hand
// in an in-memory fake here.
func newSession(opts *config.Options, identity models.Identity, svc Service, logger *zap.Logger) *Session {
	tm := transport.NewManager(opts, logger)

	s := &Session{
		opts:      opts,
		logger:    logger,
		identity:  identity,
		svc:       svc,
		transport: tm,
	}
	s.directory = NewDirectory(svc, identity, opts, logger)
	s.stream = NewStream(svc, logger)
	s.receipts = NewReceipts(svc, s.directory, opts, logger)
	s.notifier = NewNotifier(identity, opts.PreviewMaxLen)

	// Typed event wiring, once, at construction. Nothing downstream ever
	// re-registers on reconnect — the manager owns the subscriptions.
	s.directory.onRooms = tm.Rooms().SetRooms
	s.directory.onAutoSelect = func(key string) { s.Select(key) }
	tm.OnMessage(s.handleIncoming)
	tm.OnStateChange(s.handleState)

	return s
}

// Start connects the push channel with token and loads the directory. A
// transient connect failure is not fatal — the transport keeps retrying in
// the background and the directory is still useful over plain HTTP.
func (s *Session) Start(ctx context.Context, token string) error {
	connErr := s.transport.Connect(ctx, token)
	if errors.Is(connErr, transport.ErrBlocked) {
		return connErr
	}
	if err := s.directory.Refresh(ctx); err != nil {
		return err
	}
	return connErr
}

// Select makes key the active conversation: load its history, then
// acknowledge reads after MarkReadDelay — late enough that the history has
// landed and the human has seen something, and re-checked against the
// current selection in case they navigated away during the delay.
func (s *Session) Select(key string) {
	s.directory.Select(key)

	// The active key flips synchronously so a Send issued right after
	// Select already lands in the new conversation's buffer; only the
	// history fetch runs in the background.
	s.stream.SetActive(key)
	go func() {
		if err := s.stream.fetch(context.Background(), key); err != nil {
			s.logger.Warn("history load failed", zap.String("key", key), zap.Error(err))
		}
	}()

	s.mu.Lock()
	if s.markReadTimer != nil {
		s.markReadTimer.Stop()
	}
	s.markReadTimer = time.AfterFunc(s.opts.MarkReadDelay, func() {
		if s.directory.Selected() != key {
			return
		}
		s.receipts.MarkRead(context.Background(), key)
	})
	s.mu.Unlock()
}

// Send posts body to the active conversation with an optimistic local copy:
// the message appears immediately as Pending, is swapped for the server
// copy on success, and flips to Failed (retryable) otherwise. Returns the
// local ID so surfaces can track the specific message.
func (s *Session) Send(ctx context.Context, body string) (string, error) {
	key := s.directory.Selected()
	if key == "" {
		return "", ErrNoSelection
	}

	local := models.Message{
		ID:              uuid.NewString(),
		ConversationKey: key,
		SenderID:        s.identity.UserID.String(),
		SenderRole:      s.identity.Role,
		Body:            body,
		CreatedAt:       time.Now(),
		Pending:         true,
	}
	s.stream.AppendIfRelevant(local)

	server, err := s.svc.Send(ctx, key, body)
	if err != nil {
		s.stream.MarkFailed(local.ID)
		s.logger.Warn("send failed", zap.String("key", key), zap.Error(err))
		return local.ID, err
	}

	// The echo is self-authored by definition. Stamp the sender from the
	// session identity instead of trusting the collaborator to echo it
	// back — unread bookkeeping must never count our own send.
	echo := *server
	echo.SenderID = local.SenderID
	echo.SenderRole = local.SenderRole

	s.stream.Resolve(local.ID, echo)
	// Our own send is also "activity": bump the conversation to the front
	// with the authoritative copy. Self-authored, so unread stays put, and
	// the eventual push of the same message deduplicates everywhere.
	s.directory.ApplyIncoming(echo)
	return server.ID, nil
}

// Retry re-sends a failed optimistic message by its local ID.
func (s *Session) Retry(ctx context.Context, localID string) (string, error) {
	msg, ok := s.stream.Take(localID)
	if !ok || !msg.Failed {
		return "", errors.New("no failed message with that id")
	}
	return s.Send(ctx, msg.Body)
}

// MarkAllRead acknowledges every conversation at once.
func (s *Session) MarkAllRead(ctx context.Context) error {
	return s.receipts.MarkAllRead(ctx)
}

// Reauthenticate installs a fresh credential: the REST client switches
// tokens and the transport reconnects, which also resets the circuit
// breaker if the new credential differs from the one that tripped it.
func (s *Session) Reauthenticate(ctx context.Context, token string) error {
	if s.api != nil {
		s.api.SetToken(token)
	}
	return s.transport.Connect(ctx, token)
}

// SetFocused tells the notifier whether the chat surface is in front of
// the user.
func (s *Session) SetFocused(focused bool) {
	s.notifier.SetFocused(focused)
}

// OnNotification registers a sink for out-of-band alerts.
func (s *Session) OnNotification(fn func(Notification)) {
	s.mu.Lock()
	s.onNotify = append(s.onNotify, fn)
	s.mu.Unlock()
}

// OnStateChange registers a sink for connection state transitions. A
// Blocked transition is the "needs re-authentication" signal — the
// embedding app redirects to login on it.
func (s *Session) OnStateChange(fn func(models.ConnState)) {
	s.mu.Lock()
	s.onState = append(s.onState, fn)
	s.mu.Unlock()
}

// Accessors for the read models. Surfaces render from these snapshots.

func (s *Session) Directory() *Directory         { return s.directory }
func (s *Session) Stream() *Stream               { return s.stream }
func (s *Session) State() models.ConnState       { return s.transport.State() }
func (s *Session) Identity() models.Identity     { return s.identity }
func (s *Session) Transport() *transport.Manager { return s.transport }

// Close tears the session down: push connection, pending timers. Safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.markReadTimer != nil {
		s.markReadTimer.Stop()
		s.markReadTimer = nil
	}
	s.mu.Unlock()

	s.directory.Close()
	s.transport.Disconnect()
}

// handleIncoming is the single entry point for pushed messages: directory
// first (unread bookkeeping, ordering), then the stream if the message
// belongs to the active conversation, then the notification decision.
func (s *Session) handleIncoming(msg models.Message) {
	s.directory.ApplyIncoming(msg)
	s.stream.AppendIfRelevant(msg)

	if n, ok := s.notifier.Decide(msg); ok {
		s.mu.Lock()
		sinks := make([]func(Notification), len(s.onNotify))
		copy(sinks, s.onNotify)
		s.mu.Unlock()
		for _, fn := range sinks {
			fn(n)
		}
	}
}

func (s *Session) handleState(state models.ConnState) {
	if state == models.StateBlocked {
		s.logger.Warn("session blocked, re-authentication required")
	}

	s.mu.Lock()
	sinks := make([]func(models.ConnState), len(s.onState))
	copy(sinks, s.onState)
	s.mu.Unlock()
	for _, fn := range sinks {
		fn(state)
	}
}
