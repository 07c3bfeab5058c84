package chat

import (
	"sync"

	"github.com/lalith-99/chatlink/models"
)

// Ellipsis is appended to a preview that had to be truncated.
const Ellipsis = "…"

// Notification is one out-of-band alert: which conversation to navigate to
// and what to show.
type Notification struct {
	ConversationKey string
	Title           string
	Preview         string
}

// Notifier decides whether an arriving message warrants an alert.
//
// Suppression rules, checked in order:
//
//	(a) self-authored — you don't get toasted for your own words,
//	(b) the chat surface is focused — the message is already on screen,
//	(c) the message comes from the viewer's OWN side of the conversation —
//	    in support chat only inbound-from-customer alerts staff, and only
//	    staff replies alert a customer; a colleague's reply on the same
//	    side is ambient, not an event.
//
// Everything else produces exactly one Notification with a rune-bounded
// preview.
type Notifier struct {
	identity   models.Identity
	previewMax int

	mu      sync.Mutex
	focused bool
}

func NewNotifier(identity models.Identity, previewMax int) *Notifier {
	return &Notifier{identity: identity, previewMax: previewMax}
}

// SetFocused records whether the live conversation surface is currently in
// front of the user.
func (n *Notifier) SetFocused(focused bool) {
	n.mu.Lock()
	n.focused = focused
	n.mu.Unlock()
}

// Decide returns the alert for msg, or ok=false when suppressed.
func (n *Notifier) Decide(msg models.Message) (Notification, bool) {
	if msg.SelfOf(n.identity) {
		return Notification{}, false
	}

	n.mu.Lock()
	focused := n.focused
	n.mu.Unlock()
	if focused {
		return Notification{}, false
	}

	if msg.SenderRole.Staffish() == n.identity.Role.Staffish() {
		return Notification{}, false
	}

	return Notification{
		ConversationKey: msg.ConversationKey,
		Title:           "New message",
		Preview:         Truncate(msg.Body, n.previewMax),
	}, true
}

// Truncate bounds s to max runes, appending the ellipsis marker when
// anything was cut. Runes, not bytes: a preview must never split a
// multi-byte character in half.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + Ellipsis
}
