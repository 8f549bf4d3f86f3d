// Package ports defines the external collaborators the session engine
// consumes but does not implement: the channel adapter, the broker-wide
// sessions registry, and the retained message store. Production
// implementations live outside this module; internal/sessiontest provides
// fakes for this repository's own tests.
package ports

import (
	"context"

	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
)

// Adapter is the framed duplex pipe a session uses to exchange decoded MQTT
// packets with its connected client. Transport, TLS, authentication and
// wire encoding are all handled below this interface.
type Adapter interface {
	// ReceivePacket blocks until the next decoded packet arrives, ctx is
	// cancelled, or a non-erroring EOF-equivalent occurs (nil, nil).
	ReceivePacket(ctx context.Context) (message.Packet, error)

	// SendPacket encodes and writes pkt, blocking until sent or ctx is
	// cancelled.
	SendPacket(ctx context.Context, pkt message.Packet) error

	// Endpoint is an opaque string identifying the remote peer (for status
	// reporting only).
	Endpoint() string

	// ProtocolVersion is the MQTT protocol version negotiated for this
	// connection (4 for 3.1.1).
	ProtocolVersion() byte

	// OnReadStarted/OnReadCompleted register callbacks bracketing only the
	// span where bytes of an already-arriving packet are being actively
	// consumed, used to pause/resume the keep-alive monitor for the
	// duration of that active read. They must NOT bracket the idle wait for
	// the next packet to start arriving: that idle wait is precisely the
	// span the keep-alive deadline has to run during, or a silent client
	// can never be timed out. An implementation calls OnReadStarted's
	// registered callback only once it has detected the first byte of a
	// new packet, never before.
	OnReadStarted(func())
	OnReadCompleted(func())
}

// Registry is the broker-wide collaborator that fans an application message
// out to every session whose subscriptions match it (including the
// sender's own, if matched), and persists retained messages.
type Registry interface {
	// EnqueueApplicationMessage dispatches msg to every matching session.
	// sender identifies the originating session; the session engine passes
	// itself both for client publishes and for its will message. Retained
	// replay does not go through the registry.
	EnqueueApplicationMessage(sender EnqueueSource, msg message.Application)
}

// EnqueueSource identifies the session, if any, that originated a message
// being fanned out. It is intentionally minimal to avoid an import cycle
// between ports and session.
type EnqueueSource interface {
	ClientID() string
}

// RetainedStore is queried by topic-filter set when a client subscribes.
type RetainedStore interface {
	GetSubscribed(filters []string) []message.Application
}

// SubscriptionInterceptor lets a server-side collaborator override the
// outcome of a subscription request.
type SubscriptionInterceptor interface {
	InterceptSubscribe(filter string, requested message.QoS) (granted message.QoS, accept bool, closeConnection bool)
}

// QueueInterceptContext is passed to a QueueInterceptor when a message is
// about to be enqueued for a particular receiving client.
type QueueInterceptContext struct {
	SenderClientID   string
	ReceiverClientID string
	Message          *message.Application
}

// QueueInterceptor may mutate an outgoing application message in place and
// decide whether it should be enqueued at all.
type QueueInterceptor interface {
	InterceptEnqueue(ctx QueueInterceptContext) (accept bool)
}
