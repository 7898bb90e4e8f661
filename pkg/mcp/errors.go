package mcp

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when an operation that requires a completed
// handshake is invoked before Init.
var ErrNotInitialized = errors.New("mcp: client not initialized")

// ErrClosed is returned when an operation is attempted after Close.
var ErrClosed = errors.New("mcp: client has been closed")

// ConnectionError reports a failure to establish a session with a tool
// server: the process could not be started, or the handshake or tool
// discovery failed or timed out.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcp: connect to server %q: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
