package server

// State is a step of the session pipeline. States only move forward.
type State int32

const (
	StateCreated State = iota
	StateHandshaking
	StateServing
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHandshaking:
		return "handshaking"
	case StateServing:
		return "serving"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome summarizes how a session reached StateClosed.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeHandshakeFailed Outcome = "handshake_failed"
	OutcomeReadFailed      Outcome = "read_failed"
	OutcomeWriteFailed     Outcome = "write_failed"
	OutcomeCloseFailed     Outcome = "close_failed"
)
