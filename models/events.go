package models

// Wire frames exchanged over the push channel. One JSON object per frame,
// discriminated by Type — the same shape whether the server pushes a new
// message or the client asks to join a room.

const (
	// EventJoin is the client → server room-join command. Fire-and-forget:
	// there is no ack frame, so joins must be idempotent server-side and
	// the client never waits on one.
	EventJoin = "join"

	// EventMessage is the server → client new-message push.
	EventMessage = "message"
)

// Event is one push-channel frame.
type Event struct {
	Type    string   `json:"type"`
	Room    string   `json:"room,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// JoinEvent builds a join command for a room.
func JoinEvent(room string) Event {
	return Event{Type: EventJoin, Room: room}
}
