package session

import (
	"fmt"

	"chatnode/internal/uiproto"
)

// SessionError pairs a machine-readable kind with a human message, and
// satisfies the error interface so internal plumbing can use %w.
type SessionError struct {
	Kind    uiproto.ErrorKind
	Message string
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind uiproto.ErrorKind, format string, args ...any) *SessionError {
	return &SessionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// toEvent converts a SessionError to the uiproto.Error the UI agent renders.
func (e *SessionError) toEvent() uiproto.Error {
	return uiproto.Error{Kind: e.Kind, Message: e.Message}
}
