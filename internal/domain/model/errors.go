package model

import (
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("unknown event kind")

// MalformedEventError reports a frame that could not be turned into a typed event.
type MalformedEventError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %q event: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %q event: %s", e.Kind, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

func malformed(kind Kind, reason string, err error) error {
	return &MalformedEventError{Kind: kind, Reason: reason, Err: err}
}
