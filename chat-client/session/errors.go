package session

import "errors"

var (
	// ErrNotConnected is returned by Send outside the Connected state.
	ErrNotConnected = errors.New("session: not connected")
	// ErrEmptyMessage is returned by Send for blank or whitespace-only text.
	ErrEmptyMessage = errors.New("session: empty message")
	// ErrNoCredential is returned by Enter when the provider has no login.
	ErrNoCredential = errors.New("session: no credential")
	// ErrNoRoom is returned by Enter for an empty room name.
	ErrNoRoom = errors.New("session: no room")
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("session: closed")
)
