package transport

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/chatlink/models"
)

// Membership keeps the live connection's joined-room set equal to the set
// the directory implies: the identity's own tenant room for a normal-scope
// user, the distinct union of every known conversation's tenant for an
// elevated one.
//
// Joins are fire-and-forget — no ack frame exists — so correctness rests on
// two things: join commands are idempotent server-side, and this tracker
// diffs instead of blindly rejoining on every directory change. The one
// exception is a reconnect: server-side membership dies with the
// connection, so a Connected transition re-issues everything.
type Membership struct {
	send   func(models.Event) error
	logger *zap.Logger

	mu      sync.Mutex
	desired map[string]struct{}
	joined  map[string]struct{}
}

func newMembership(send func(models.Event) error, logger *zap.Logger) *Membership {
	return &Membership{
		send:    send,
		logger:  logger,
		desired: make(map[string]struct{}),
		joined:  make(map[string]struct{}),
	}
}

// SetRooms replaces the desired room set and issues join commands for the
// rooms not yet joined. Rooms that fell out of the desired set get no
// "leave" — there is no such command; they simply won't be rejoined after
// the next reconnect.
func (mb *Membership) SetRooms(rooms []string) {
	mb.mu.Lock()
	mb.desired = make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		if r != "" {
			mb.desired[r] = struct{}{}
		}
	}
	pending := mb.missingLocked()
	mb.mu.Unlock()

	mb.join(pending)
}

// Desired returns the current desired set, sorted for stable reads.
func (mb *Membership) Desired() []string {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]string, 0, len(mb.desired))
	for r := range mb.desired {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// rejoin forgets everything previously joined and re-issues the full
// desired set. Called by the Manager on every Connected transition.
func (mb *Membership) rejoin() {
	mb.mu.Lock()
	mb.joined = make(map[string]struct{})
	pending := mb.missingLocked()
	mb.mu.Unlock()

	mb.join(pending)
}

// missingLocked computes desired minus joined. Caller holds mu.
func (mb *Membership) missingLocked() []string {
	var out []string
	for r := range mb.desired {
		if _, ok := mb.joined[r]; !ok {
			out = append(out, r)
		}
	}
	// Sorted so join ordering is deterministic — matters only for tests
	// and log readability, the server doesn't care.
	sort.Strings(out)
	return out
}

func (mb *Membership) join(rooms []string) {
	for _, room := range rooms {
		if err := mb.send(models.JoinEvent(room)); err != nil {
			// Not connected (or blocked): fine. The Connected transition
			// will rejoin, and the desired set already remembers the room.
			mb.logger.Debug("join deferred", zap.String("room", room), zap.Error(err))
			continue
		}
		mb.mu.Lock()
		mb.joined[room] = struct{}{}
		mb.mu.Unlock()
	}
}
