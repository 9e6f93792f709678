// Package transport implements the realtime room channel of the chat client.
//
// A Handle is one connection attempt. It reports everything that happens to
// it through the emit callback given to Opener.Open, in order, ending with
// exactly one EventClosed. Handles never reconnect on their own.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotOpen is returned by Send when the handle is not in the open state.
	ErrNotOpen = errors.New("transport: not open")
	// ErrTransport marks a transport-level fault reported with EventErrored.
	ErrTransport = errors.New("transport: fault")
)

// EventKind discriminates Event.
type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventMessage
	EventPresence
	EventErrored
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventPresence:
		return "presence"
	case EventErrored:
		return "errored"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// PresenceAction is the direction of a presence change.
type PresenceAction string

const (
	Joined PresenceAction = "joined"
	Left   PresenceAction = "left"
)

// Event is a single inbound notification from a Handle.
type Event struct {
	// Handle identifies the connection attempt that produced the event.
	Handle uuid.UUID
	Kind   EventKind

	Username  string
	Content   string
	Timestamp time.Time
	Action    PresenceAction

	// Err is set on EventErrored.
	Err error
}

// Handle is an identity-bearing reference to one connection attempt.
type Handle interface {
	ID() uuid.UUID
	// IsOpen reports whether Send is currently permitted.
	IsOpen() bool
	// Send queues text for transmission.
	Send(text string) error
	// Close tears the connection down. It is idempotent and never blocks on
	// event delivery; EventClosed follows asynchronously.
	Close() error
}

// Opener starts connection attempts. Open returns immediately; the
// handshake runs in the background and reports through emit. emit is
// called from a single goroutine per handle.
type Opener interface {
	Open(ctx context.Context, room, token string, emit func(Event)) Handle
}
