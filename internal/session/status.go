package session

import "time"

// Status is a point-in-time snapshot of a session's externally visible
// state, populated by FillStatus for admin/introspection use.
type Status struct {
	ClientID                       string
	IsConnected                    bool
	Endpoint                       string
	ProtocolVersion                byte
	PendingMessagesCount           int
	LastPacketReceived             time.Time
	LastNonKeepAlivePacketReceived time.Time

	// StopCause is non-nil once a non-clean stop caused by a protocol
	// violation or a communication failure has been recorded, wrapping
	// ErrProtocolViolation or ErrCommunicationFailure respectively for
	// errors.Is-based classification. It stays nil while connected, after a
	// clean disconnect, and after a non-clean stop from any other cause
	// (keep-alive timeout, a subscription interceptor closing the
	// connection, a recovered enqueue panic, or a direct Stop call).
	StopCause error
}

// FillStatus populates out with the session's current state. Safe to call
// from any goroutine, including concurrently with Run.
func (e *Engine) FillStatus(out *Status) {
	e.mu.Lock()
	out.ClientID = e.clientID
	out.IsConnected = e.adapter != nil
	if e.adapter != nil {
		out.Endpoint = e.adapter.Endpoint()
		out.ProtocolVersion = e.adapter.ProtocolVersion()
	}
	keepAlive := e.keepAlive
	out.StopCause = e.stopCause
	e.mu.Unlock()

	out.PendingMessagesCount = e.queue.Len()
	if keepAlive != nil {
		out.LastPacketReceived = keepAlive.LastPacketReceived()
		out.LastNonKeepAlivePacketReceived = keepAlive.LastNonKeepAlivePacketReceived()
	}
}
