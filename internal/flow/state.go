package flow

import "fmt"

// State enumerates the stations of the three-party authorization handshake.
type State int

const (
	StateIdle State = iota
	StatePendingAuthorization
	StateAwaitingLoginChallenge
	StateAwaitingConsentChallenge
	StateAwaitingCode
	StateExchanging
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePendingAuthorization:
		return "PENDING_AUTHORIZATION"
	case StateAwaitingLoginChallenge:
		return "AWAITING_LOGIN_CHALLENGE"
	case StateAwaitingConsentChallenge:
		return "AWAITING_CONSENT_CHALLENGE"
	case StateAwaitingCode:
		return "AWAITING_CODE"
	case StateExchanging:
		return "EXCHANGING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal forward edges. FAILED is reachable from
// any state and handled directly in advance.
var transitions = map[State][]State{
	StateIdle:                     {StatePendingAuthorization},
	StatePendingAuthorization:     {StateAwaitingLoginChallenge},
	StateAwaitingLoginChallenge:   {StateAwaitingConsentChallenge},
	StateAwaitingConsentChallenge: {StateAwaitingCode},
	StateAwaitingCode:             {StateExchanging},
	StateExchanging:               {StateAuthenticated},
}

// advance validates the edge from -> to and returns the new state.
func advance(from, to State) (State, error) {
	if to == StateFailed {
		return StateFailed, nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return to, nil
		}
	}
	return StateFailed, fmt.Errorf("illegal transition %s -> %s", from, to)
}
