package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalith-99/chatlink/config"
	"github.com/lalith-99/chatlink/models"
)

// Directory is the authoritative client-side list of conversations: one per
// counterparty, newest activity first, each carrying an unread count and a
// last-message pointer.
//
// It is reconciled two ways: wholesale by Refresh (a bulk fetch replaces the
// list) and incrementally by ApplyIncoming/ApplyReadAck as push events and
// acknowledgements land. A push for an unknown counterparty can't be
// materialized locally — the frame lacks the profile snapshot — so it
// schedules one debounced Refresh instead.
type Directory struct {
	svc      Service
	identity models.Identity
	opts     *config.Options
	logger   *zap.Logger

	// onRooms receives the recomputed desired room set after every list
	// change. onAutoSelect fires at most once per successful refresh, and
	// only when nothing is selected yet.
	onRooms      func([]string)
	onAutoSelect func(key string)

	mu            sync.Mutex
	conversations []models.Conversation
	selected      string
	unreadTotal   int
	refreshing    bool
	pendingTimer  *time.Timer
}

func NewDirectory(svc Service, identity models.Identity, opts *config.Options, logger *zap.Logger) *Directory {
	return &Directory{
		svc:      svc,
		identity: identity,
		opts:     opts,
		logger:   logger,
	}
}

// Refresh fetches the full conversation list and replaces local state
// wholesale. Single-flight: a call while one is already running is DROPPED,
// not queued — the running fetch will deliver the same data.
func (d *Directory) Refresh(ctx context.Context) error {
	d.mu.Lock()
	if d.refreshing {
		d.mu.Unlock()
		return nil
	}
	d.refreshing = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.refreshing = false
		d.mu.Unlock()
	}()

	list, err := d.svc.Conversations(ctx)
	if err != nil {
		d.logger.Warn("conversation refresh failed", zap.Error(err))
		return err
	}

	total := 0
	if d.identity.Role.Elevated() {
		// Elevated scope sums locally: the server-side aggregate is not
		// tenant-spanning.
		for _, c := range list {
			total += c.Unread
		}
	} else {
		total, err = d.svc.UnreadTotal(ctx)
		if err != nil {
			d.logger.Warn("unread total fetch failed", zap.Error(err))
			total = 0
		}
	}
	// Self-authored broadcasts must never count as unread for their
	// author; the service currently includes them, so correct here.
	// If the server ever fixes the aggregate, this loop deletes.
	for _, c := range list {
		if c.Key == d.identity.UserID.String() {
			total -= c.Unread
		}
	}
	if total < 0 {
		total = 0
	}

	d.mu.Lock()
	d.conversations = list
	d.unreadTotal = total
	autoKey := ""
	if d.selected == "" && len(list) > 0 {
		// Auto-select the first conversation (server order), and only
		// when the user hasn't picked one while the fetch was in flight.
		autoKey = list[0].Key
	}
	rooms := d.roomsLocked()
	onRooms, onAuto := d.onRooms, d.onAutoSelect
	d.mu.Unlock()

	if onRooms != nil {
		onRooms(rooms)
	}
	if autoKey != "" && onAuto != nil {
		onAuto(autoKey)
	}
	return nil
}

// ApplyIncoming patches the directory for one pushed message.
//
// Known counterparty: update the last-message pointer, bump unread (unless
// self-authored) and move the conversation to the front. Unknown
// counterparty: schedule ONE debounced Refresh — the push frame has no
// profile data to build a conversation record from, and a burst of
// first-contact messages must not fan out into a burst of fetches.
func (d *Directory) ApplyIncoming(msg models.Message) {
	self := msg.SelfOf(d.identity)

	d.mu.Lock()
	idx := -1
	for i := range d.conversations {
		if d.conversations[i].Key == msg.ConversationKey {
			idx = i
			break
		}
	}

	if idx < 0 {
		d.scheduleRefreshLocked()
		d.mu.Unlock()
		return
	}

	conv := d.conversations[idx]
	m := msg
	conv.LastMessage = &m
	if !self {
		conv.Unread++
		d.unreadTotal++
	}

	// Most-recently-active first.
	d.conversations = append(d.conversations[:idx], d.conversations[idx+1:]...)
	d.conversations = append([]models.Conversation{conv}, d.conversations...)
	d.mu.Unlock()
}

// ApplyReadAck drives one conversation's unread count to exactly zero.
// Idempotent: acking an already-zero conversation (or an unknown one)
// changes nothing.
func (d *Directory) ApplyReadAck(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.conversations {
		if d.conversations[i].Key != key {
			continue
		}
		d.unreadTotal -= d.conversations[i].Unread
		if d.unreadTotal < 0 {
			d.unreadTotal = 0
		}
		d.conversations[i].Unread = 0
		return
	}
}

// ApplyReadAll zeroes every unread counter (mark-all-read succeeded).
func (d *Directory) ApplyReadAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.conversations {
		d.conversations[i].Unread = 0
	}
	d.unreadTotal = 0
}

// Select records the active conversation key. The session layer drives the
// side effects (history load, delayed read-ack); the directory only needs
// to know so auto-select stays quiet afterwards.
func (d *Directory) Select(key string) {
	d.mu.Lock()
	d.selected = key
	d.mu.Unlock()
}

// Selected returns the active conversation key ("" when none).
func (d *Directory) Selected() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// Snapshot returns a copy of the list in presentation order.
func (d *Directory) Snapshot() []models.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Conversation, len(d.conversations))
	copy(out, d.conversations)
	return out
}

// UnreadTotal returns the viewer's aggregate unread count.
func (d *Directory) UnreadTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unreadTotal
}

// scheduleRefreshLocked arms the debounced refresh if none is pending.
// Caller holds mu.
func (d *Directory) scheduleRefreshLocked() {
	if d.pendingTimer != nil {
		return
	}
	d.pendingTimer = time.AfterFunc(d.opts.RefreshDebounce, func() {
		d.mu.Lock()
		d.pendingTimer = nil
		d.mu.Unlock()
		// Background: this fires from a timer, long after the push
		// handler returned.
		if err := d.Refresh(context.Background()); err != nil {
			d.logger.Warn("debounced refresh failed", zap.Error(err))
		}
	})
}

// roomsLocked recomputes the desired room set from scope. Caller holds mu.
func (d *Directory) roomsLocked() []string {
	if !d.identity.Role.Elevated() {
		return []string{d.identity.Room()}
	}
	seen := make(map[uuid.UUID]struct{})
	var rooms []string
	for _, c := range d.conversations {
		if c.TenantID == uuid.Nil {
			continue
		}
		if _, ok := seen[c.TenantID]; ok {
			continue
		}
		seen[c.TenantID] = struct{}{}
		rooms = append(rooms, models.TenantRoom(c.TenantID))
	}
	return rooms
}

// Close stops any pending debounced refresh.
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pendingTimer != nil {
		d.pendingTimer.Stop()
		d.pendingTimer = nil
	}
}
