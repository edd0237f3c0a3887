package party

// State is the sealed session state variant. The only implementations are
// Idle and Joined; there is no transient joining or leaving state. A failed
// join resolves back to Idle, never to a half-formed Joined.
type State interface {
	isPartyState()
}

// Idle is the state of a session with no active party.
type Idle struct{}

func (Idle) isPartyState() {}

// Joined is the state of a session participating in a party. Members is a
// snapshot; mutating it does not affect the session.
type Joined struct {
	// Code is the party join code.
	Code string

	// Members is the current deduplicated member set.
	Members []Member

	// IsHost reports whether the local user opened the party.
	IsHost bool
}

func (Joined) isPartyState() {}
