package chat

import "errors"

// Failure taxonomy shared by the transport, gateway and session packages.
// Callers classify with errors.Is; the concrete cause stays wrapped.
var (
	// ErrAuthentication means the credential was rejected. Fatal to the
	// session, never retried here.
	ErrAuthentication = errors.New("authentication rejected")

	// ErrConnection is a transient realtime transport failure. The
	// transport reacts with backoff reconnection.
	ErrConnection = errors.New("connection failure")

	// ErrNotConnected is returned for commands issued while the realtime
	// connection is not established. Surfaced immediately, not retried.
	ErrNotConnected = errors.New("not connected")

	// ErrNetwork is a request/response transport failure on the HTTP
	// gateway. The caller may retry.
	ErrNetwork = errors.New("network failure")

	// ErrNotFound means the conversation or message is unknown to this
	// account.
	ErrNotFound = errors.New("not found")
)
