package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/coalmine-labs/mqtt-session-engine/internal/logctx"
	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
	"github.com/coalmine-labs/mqtt-session-engine/internal/ports"
)

// receiveLoop repeatedly awaits the next decoded packet from adapter under
// ctx, driving the keep-alive monitor and the packet dispatch table. It
// returns (always nil, to satisfy errgroup.Go) once the connection ends.
func (e *Engine) receiveLoop(ctx context.Context, adapter ports.Adapter) error {
	for {
		pkt, err := adapter.ReceivePacket(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			logctx.Session.Warningf("[%s] communication failure: %v", e.clientID, err)
			e.recordStopCause(fmt.Errorf("%w: %v", ErrCommunicationFailure, err))
			e.Stop(StopNotClean)
			return nil
		}
		if pkt == nil {
			// Graceful peer close: not an error, but not a clean DISCONNECT
			// either unless one already arrived.
			logctx.Session.Infof("[%s] adapter reported end of stream", e.clientID)
			e.recordStopCause(fmt.Errorf("%w: adapter closed without a DISCONNECT", ErrCommunicationFailure))
			e.Stop(StopNotClean)
			return nil
		}

		e.keepAlive.PacketReceived(pkt.Kind())

		if e.dispatch(ctx, adapter, pkt) {
			return nil
		}
	}
}

// dispatch handles one inbound packet and reports whether the receive loop
// must stop (a terminal packet was processed, or the session was asked to
// stop as a result).
func (e *Engine) dispatch(ctx context.Context, adapter ports.Adapter, pkt message.Packet) (done bool) {
	switch p := pkt.(type) {
	case *message.PublishPacket:
		return e.handlePublish(ctx, adapter, p)

	case *message.PingReqPacket:
		e.sendInline(ctx, adapter, &message.PingRespPacket{})
		return false

	case *message.PubRelPacket:
		e.sendInline(ctx, adapter, &message.PubCompPacket{PacketID: p.PacketID})
		return false

	case *message.PubRecPacket:
		e.sendInline(ctx, adapter, &message.PubRelPacket{PacketID: p.PacketID})
		return false

	case *message.PubAckPacket:
		return false // outbound QoS>0 completion is not tracked client-side

	case *message.PubCompPacket:
		return false

	case *message.SubscribePacket:
		return e.handleSubscribePacket(ctx, adapter, p)

	case *message.UnsubscribePacket:
		e.handleUnsubscribePacket(ctx, adapter, p)
		return false

	case *message.DisconnectPacket:
		e.Stop(StopClean)
		return true

	case *message.ConnectPacket:
		logctx.Session.Warningf("[%s] unexpected second CONNECT", e.clientID)
		e.recordStopCause(fmt.Errorf("%w: unexpected second CONNECT", ErrProtocolViolation))
		e.Stop(StopNotClean)
		return true

	default:
		logctx.Session.Warningf("[%s] unsupported packet kind", e.clientID)
		e.recordStopCause(fmt.Errorf("%w: unsupported packet kind %s", ErrProtocolViolation, pkt.Kind()))
		e.Stop(StopNotClean)
		return true
	}
}

// handlePublish implements the QoS 0/1/2 inbound handling of spec §4.E,
// including QoS 2 method B: the application message is handed to the
// registry immediately on PUBLISH, with the PUBREL/PUBCOMP handshake
// completed later via the generic dispatch table above.
func (e *Engine) handlePublish(ctx context.Context, adapter ports.Adapter, p *message.PublishPacket) (done bool) {
	switch p.QoS {
	case message.QoS0:
		e.registry.EnqueueApplicationMessage(e, p.Application)
	case message.QoS1:
		e.registry.EnqueueApplicationMessage(e, p.Application)
		e.sendInline(ctx, adapter, &message.PubAckPacket{PacketID: p.PacketID})
	case message.QoS2:
		e.registry.EnqueueApplicationMessage(e, p.Application)
		e.sendInline(ctx, adapter, &message.PubRecPacket{PacketID: p.PacketID})
	default:
		logctx.Session.Warningf("[%s] publish with invalid qos %d", e.clientID, p.QoS)
		e.recordStopCause(fmt.Errorf("%w: publish with invalid qos %d", ErrProtocolViolation, p.QoS))
		e.Stop(StopNotClean)
		return true
	}
	return false
}

func (e *Engine) handleSubscribePacket(ctx context.Context, adapter ports.Adapter, p *message.SubscribePacket) (done bool) {
	requests := make([]message.SubscribeRequest, len(p.Filters))
	copy(requests, p.Filters)

	codes, closeConnection := e.subs.Subscribe(requests)
	e.sendInline(ctx, adapter, &message.SubAckPacket{PacketID: p.PacketID, ReturnCodes: codes})

	if closeConnection {
		e.Stop(StopNotClean)
		return true
	}

	requested := make([]string, len(p.Filters))
	for i, f := range p.Filters {
		requested[i] = f.Filter
	}
	e.replayRetained(e.subs.Filters(requested))
	return false
}

func (e *Engine) handleUnsubscribePacket(ctx context.Context, adapter ports.Adapter, p *message.UnsubscribePacket) {
	e.subs.Unsubscribe(p.Filters)
	e.sendInline(ctx, adapter, &message.UnsubAckPacket{PacketID: p.PacketID})
}

// sendInline writes a control packet (everything but PUBLISH) directly
// through the adapter rather than through the pending outbound queue, per
// the data model: "other control packets are sent synchronously by the
// session, not through the queue."
func (e *Engine) sendInline(ctx context.Context, adapter ports.Adapter, pkt message.Packet) {
	if err := adapter.SendPacket(ctx, pkt); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		logctx.Session.Warningf("[%s] failed to send %s: %v", e.clientID, pkt.Kind(), err)
		e.recordStopCause(fmt.Errorf("%w: sending %s: %v", ErrCommunicationFailure, pkt.Kind(), err))
		e.Stop(StopNotClean)
	}
}
