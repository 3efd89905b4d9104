package session

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Negotiating
	Connected
	Disconnected
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists the states reachable from each state. Closed is
// terminal; Connected and Disconnected may alternate.
var transitions = map[State][]State{
	Idle:         {Negotiating, Closed},
	Negotiating:  {Connected, Disconnected, Failed, Closed},
	Connected:    {Disconnected, Failed, Closed},
	Disconnected: {Connected, Failed, Closed},
	Failed:       {Closed},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Role says which side creates the offer.
type Role int

const (
	Initiator Role = iota + 1
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "undecided"
	}
}
