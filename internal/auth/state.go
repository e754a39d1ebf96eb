// internal/auth/state.go
package auth

// State is the position of the login handshake. Transitions only move
// forward; CodeSent may repeat on resend.
type State int32

const (
	Unconfigured State = iota
	Configured
	CodeSent
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "UNCONFIGURED"
	case Configured:
		return "CONFIGURED"
	case CodeSent:
		return "CODE_SENT"
	case Authenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}
