package models

// ConnState is where the push connection currently is.
//
// The legal transitions form a small machine:
//
//	Disconnected → Connecting        (Connect called, or automatic retry)
//	Connecting   → Connected         (handshake accepted)
//	Connecting   → Disconnected      (transient dial failure; bounded retry)
//	Connecting   → Blocked           (auth failures reached the threshold)
//	Connected    → Disconnected      (read error, server close, Disconnect)
//	Blocked      → Connecting        (only via a FRESH credential)
//
// Blocked is terminal for the credential that earned it: while Blocked,
// every connection attempt and outbound send is rejected locally, no
// network round-trip.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateBlocked
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBlocked:
		return "blocked"
	}
	return "unknown"
}
