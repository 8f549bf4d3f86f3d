package session

import "errors"

// Sentinel errors classifying the outcomes the dispatch loop can hit, so
// callers can use errors.Is rather than string matching.
var (
	// ErrProtocolViolation marks an inbound packet the protocol does not
	// allow in the current state (a second CONNECT, an unsupported QoS, an
	// unrecognized packet kind).
	ErrProtocolViolation = errors.New("session: protocol violation")

	// ErrCommunicationFailure marks an adapter read or write that failed
	// for reasons other than cooperative cancellation, or a connection the
	// peer closed without sending a DISCONNECT.
	ErrCommunicationFailure = errors.New("session: communication failure")
)
