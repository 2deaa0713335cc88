package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Emit when no channel is open.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrRetriesExhausted ends Run once the backoff policy gives up.
	ErrRetriesExhausted = errors.New("transport: reconnect retries exhausted")
	// ErrClientClosed is returned by Connect after Disconnect.
	ErrClientClosed = errors.New("transport: client closed")
	// ErrSendBufferFull means an Emit was dropped because the socket is not draining.
	ErrSendBufferFull = errors.New("transport: send buffer full")

	errConnectionLost = errors.New("transport: connection lost")
)

// ConnectionError reports a failed dial or handshake.
type ConnectionError struct {
	URL     string
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connect %s (attempt %d): %v", e.URL, e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
