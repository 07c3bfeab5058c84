package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Role is who the sender/viewer is within the platform.
//
// Why type Role string and not plain string?
//   - The set is closed (four values). A typed string gives us compile-time
//     intent at call sites (msg.SenderRole == models.RoleCustomer) while
//     still marshaling to the plain JSON string the service sends.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleStaff      Role = "staff"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Elevated reports whether this role can observe conversations across
// tenants. Everyone else is scoped to exactly one tenant room.
func (r Role) Elevated() bool {
	return r == RoleSuperAdmin
}

// Staffish reports whether the role is on the operator side of a support
// conversation. The notification policy uses this: staff-to-staff replies
// don't raise alerts, inbound customer messages do.
func (r Role) Staffish() bool {
	switch r {
	case RoleStaff, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Identity is the authenticated viewer for the life of one session.
//
// Established at sign-in (parsed out of the bearer token), held until logout
// or terminal auth failure. Components never cache pieces of it separately —
// they hold the whole Identity so "is this message mine?" is always answered
// against the same snapshot.
type Identity struct {
	UserID   uuid.UUID `json:"user_id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Email    string    `json:"email"`
	Role     Role      `json:"role"`
}

// Room returns the tenant-scoped room name this identity's own tenant maps
// to. Elevated identities join one such room per tenant they can see; the
// naming rule lives here so the transport and the directory can't drift.
func (id Identity) Room() string {
	return TenantRoom(id.TenantID)
}

// TenantRoom derives the push-channel room name for a tenant.
func TenantRoom(tenantID uuid.UUID) string {
	return "tenant:" + tenantID.String()
}

// Message is one chat message, immutable once created.
//
// Why string IDs when chat backends often hand out bigserial ints?
//   - The collaborator owns ID generation and different deployments back it
//     with different stores. An opaque string accepts both, and the ordering
//     contract never leans on ID arithmetic — only on equality (dedup) and
//     lexical comparison (tie-break).
type Message struct {
	ID              string     `json:"id"`
	ConversationKey string     `json:"conversation_key"`
	SenderID        string     `json:"sender_id"`
	SenderRole      Role       `json:"sender_role"`
	Body            string     `json:"body"`
	CreatedAt       time.Time  `json:"created_at"`
	ReadAt          *time.Time `json:"read_at,omitempty"`

	// Pending/Failed are client-side only: an optimistic send sits in the
	// stream as Pending until the server copy replaces it, or flips to
	// Failed so the surface can offer a retry. Never set on server data.
	Pending bool `json:"-"`
	Failed  bool `json:"-"`
}

// Before is THE ordering rule for messages: creation time ascending, ties
// broken by ID so the order is total and stable no matter how many times
// or in what order the transport delivered things.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// SelfOf reports whether id authored this message.
func (m Message) SelfOf(id Identity) bool {
	return m.SenderID == id.UserID.String()
}

// SortMessages sorts in place by the Before rule. Every buffer mutation
// funnels through this — there is exactly one ordering in the codebase.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
}

// Conversation is one two-sided thread, keyed by the counterparty.
//
// The key is a customer ID in support chat and a colleague's user ID in
// internal mail — opaque either way. Conversations appear when a first
// message from a new counterparty arrives and are only ever replaced
// wholesale by a directory refresh, never deleted one at a time.
type Conversation struct {
	Key         string    `json:"key"`
	TenantID    uuid.UUID `json:"tenant_id"`
	DisplayName string    `json:"display_name"`

	// Unread is the count of messages in this conversation with no read
	// acknowledgement. Invariant: never negative, and exactly zero
	// immediately after a successful read-ack round-trip for this key.
	Unread int `json:"unread"`

	LastMessage *Message `json:"last_message,omitempty"`
}
