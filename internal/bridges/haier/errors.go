package haier

import (
	"errors"
	"fmt"
)

// Domain errors for the Haier bridge package. Check with errors.Is.
var (
	// ErrAuth is matched by every *AuthError.
	ErrAuth = errors.New("haier: authentication failed")

	// ErrRemote is matched by every *RemoteError.
	ErrRemote = errors.New("haier: remote call failed")

	// ErrDecode wraps malformed gateway frames and unparseable REST bodies.
	ErrDecode = errors.New("haier: decode failed")

	// ErrTransport wraps network and socket failures.
	ErrTransport = errors.New("haier: transport failure")

	// ErrCacheCorrupt marks a persisted device record of the wrong shape.
	ErrCacheCorrupt = errors.New("haier: cache record corrupt")

	// ErrNotConnected is returned when a frame is written with no live session.
	ErrNotConnected = errors.New("haier: gateway not connected")

	// ErrUnknownDevice is returned for a device id not bound to the account
	// or excluded by the device filter.
	ErrUnknownDevice = errors.New("haier: unknown device")

	// ErrNotStarted is returned by Service operations before Start.
	ErrNotStarted = errors.New("haier: service not started")
)

// RemoteError is a non-success response envelope. Info carries the
// server's retInfo message verbatim.
type RemoteError struct {
	Code string
	Info string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("haier: remote error %s: %s", e.Code, e.Info)
}

// Is reports whether target is ErrRemote.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// AuthError reports a rejected or expired token.
type AuthError struct {
	Description string
}

func (e *AuthError) Error() string {
	return "haier: authentication failed: " + e.Description
}

// Is reports whether target is ErrAuth.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}
