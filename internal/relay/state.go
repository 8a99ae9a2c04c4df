package relay

import "fmt"

// State is a connection lifecycle stage. States only move forward.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingUsername
	StateActive
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingUsername:
		return "awaiting_username"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
