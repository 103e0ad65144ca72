package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrRequestTimeout   = errors.New("bridge: request timed out")
	ErrConnectionClosed = errors.New("bridge: connection closed")
	ErrHandshakeFailed  = errors.New("bridge: handshake failed")
	ErrReservedAction   = errors.New("bridge: action name is reserved")
	ErrEmptyAction      = errors.New("bridge: action name required")
	ErrDuplicateCall    = errors.New("bridge: call id already pending")
)

// RemoteError is a failure reported by the peer that handled a call.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Action == "" {
		return "bridge: remote error: " + e.Message
	}
	return fmt.Sprintf("bridge: remote error (%s): %s", e.Action, e.Message)
}

func missingHandlerMessage(action string) string {
	return fmt.Sprintf("no handler registered for action %q", action)
}
