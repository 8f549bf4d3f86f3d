package session

import (
	"time"

	"github.com/coalmine-labs/mqtt-session-engine/internal/outbound"
	"github.com/coalmine-labs/mqtt-session-engine/internal/ports"
)

// Options configures a session Engine. It carries no file or flag parsing
// of its own — loading it from disk or a CLI is the embedding broker
// process's responsibility, an external collaborator per this engine's
// scope.
type Options struct {
	// MaxPendingMessagesPerClient bounds the outbound queue. Must be > 0.
	MaxPendingMessagesPerClient int

	// OverflowStrategy selects the queue's behavior once that bound is hit.
	OverflowStrategy outbound.OverflowStrategy

	// QueueInterceptor, if set, is consulted on every enqueue attempt and
	// may mutate the outgoing message or veto the enqueue.
	QueueInterceptor ports.QueueInterceptor

	// SubscriptionInterceptor, if set, is consulted on every SUBSCRIBE
	// request.
	SubscriptionInterceptor ports.SubscriptionInterceptor

	// Clock overrides time.Now, primarily for deterministic keep-alive
	// tests.
	Clock func() time.Time
}

func (o Options) clock() func() time.Time {
	if o.Clock != nil {
		return o.Clock
	}
	return time.Now
}

func (o Options) maxPending() int {
	if o.MaxPendingMessagesPerClient > 0 {
		return o.MaxPendingMessagesPerClient
	}
	return 1
}
