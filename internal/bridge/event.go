package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nfrund/namefeed/internal/stream"
)

// EventKind classifies lifecycle events.
type EventKind string

const (
	// EventConnected is delivered once the device connection is up.
	EventConnected EventKind = "connected"
	// EventDisconnected is the last event of every session that was not
	// disconnected explicitly.
	EventDisconnected EventKind = "disconnected"
	// EventError carries a connection failure or a fatal read error. It is
	// always followed by EventDisconnected.
	EventError EventKind = "error"
)

// ErrorCode identifies the class of a relayed error.
type ErrorCode string

const (
	CodeConnection ErrorCode = "connection"
	CodeFatalRead  ErrorCode = "fatal_read"
)

// Event is a lifecycle notification. Events cross from the worker to the
// consumer context as plain data; errors travel as a code and a message.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Endpoint  string    `json:"endpoint"`
	// Reason is the worker exit reason for EventDisconnected.
	Reason string    `json:"reason,omitempty"`
	Code   ErrorCode `json:"code,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Err rebuilds the error carried by an EventError. The result matches the
// stream package sentinels with errors.Is.
func (e Event) Err() error {
	if e.Kind != EventError {
		return nil
	}
	return &RelayedError{Code: e.Code, Detail: e.Detail}
}

// RelayedError is an error that was reported on the worker side.
type RelayedError struct {
	Code   ErrorCode
	Detail string
}

func (e *RelayedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Is matches the sentinel corresponding to the error code.
func (e *RelayedError) Is(target error) bool {
	switch e.Code {
	case CodeConnection:
		return target == stream.ErrConnection
	case CodeFatalRead:
		return target == stream.ErrFatalRead
	default:
		return false
	}
}

func errorEvent(sessionID string, ep stream.Endpoint, err error) Event {
	ev := Event{Kind: EventError, SessionID: sessionID, Endpoint: ep.String(), Detail: err.Error()}
	switch {
	case errors.Is(err, stream.ErrFatalRead):
		ev.Code = CodeFatalRead
	default:
		ev.Code = CodeConnection
	}
	return ev
}

func encodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeEvent(b []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(b, &ev)
	return ev, err
}
