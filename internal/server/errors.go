package server

import "fmt"

// Phase names the session step in which a transport error happened.
type Phase string

const (
	PhaseHandshake Phase = "handshake"
	PhaseRead      Phase = "read"
	PhaseWrite     Phase = "write"
	PhaseClose     Phase = "close"
)

// ConfigError reports a startup failure: the TLS context could not be built or
// the port could not be bound. The process must not serve after one.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// TransportError reports a per-session I/O failure. It ends the session that
// produced it and nothing else.
type TransportError struct {
	Phase Phase
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
