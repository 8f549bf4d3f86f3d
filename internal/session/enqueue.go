package session

import (
	"github.com/coalmine-labs/mqtt-session-engine/internal/logctx"
	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
	"github.com/coalmine-labs/mqtt-session-engine/internal/ports"
)

// EnqueueApplicationMessage is the fan-out sink invoked by the registry
// when routing an application message to this session (and, with
// sender=nil, by the session itself for retained-message replay). It is
// reentrant-safe and non-blocking: it only checks the subscription set and
// enqueues, and calls back into the registry only through the panic
// recovery below, when the resulting Stop delivers a will.
//
// A panic anywhere in this path (most likely from a misbehaving
// interceptor) is recovered, logged as an error, and turned into an
// unclean stop of this session only — it must never propagate back into
// the registry's broadcast and abort delivery to other subscribers.
func (e *Engine) EnqueueApplicationMessage(sender ports.EnqueueSource, msg message.Application) {
	defer func() {
		if r := recover(); r != nil {
			logctx.Session.Errorf("[%s] recovered from panic while enqueueing message: %v", e.clientID, r)
			e.Stop(StopNotClean)
		}
	}()

	result := e.subs.Check(msg)
	if !result.IsSubscribed {
		return
	}

	pub := &message.PublishPacket{Publish: message.Publish{Application: msg}}
	pub.QoS = result.EffectiveQoS
	if pub.QoS > 0 {
		pub.PacketID = e.ids.Next()
	}

	if e.options.QueueInterceptor != nil {
		ictx := ports.QueueInterceptContext{
			ReceiverClientID: e.clientID,
			Message:          &pub.Application,
		}
		if sender != nil {
			ictx.SenderClientID = sender.ClientID()
		}
		if !e.options.QueueInterceptor.InterceptEnqueue(ictx) {
			return
		}
	}

	e.queue.Enqueue(pub)
}

// replayRetained enqueues every retained application message matching
// filters, downgraded and interceptor-filtered the same way as any other
// fan-out delivery.
func (e *Engine) replayRetained(filters []string) {
	if len(filters) == 0 || e.retained == nil {
		return
	}
	for _, app := range e.retained.GetSubscribed(filters) {
		e.EnqueueApplicationMessage(nil, app)
	}
}

// Subscribe applies server-initiated subscription changes (e.g. from an
// admin API), returning the resulting SUBACK-style return codes, and
// triggers retained-message replay for newly granted filters exactly as a
// client-driven SUBSCRIBE would.
func (e *Engine) Subscribe(requests []message.SubscribeRequest) []message.QoS {
	codes, _ := e.subs.Subscribe(requests)

	requested := make([]string, len(requests))
	for i, r := range requests {
		requested[i] = r.Filter
	}
	e.replayRetained(e.subs.Filters(requested))
	return codes
}

// Unsubscribe applies server-initiated unsubscription.
func (e *Engine) Unsubscribe(filters []string) {
	e.subs.Unsubscribe(filters)
}

// ClearPendingApplicationMessages discards everything currently queued for
// send. Best effort, per spec: a packet already popped for sending by the
// sender task is not recalled.
func (e *Engine) ClearPendingApplicationMessages() {
	e.queue.Clear()
}
