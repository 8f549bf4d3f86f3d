// Package sessiontest provides in-memory fakes for the external
// collaborators the session engine consumes (the channel adapter, the
// sessions registry, the retained message store), grounded on the
// mock-connection style test doubles used across the retrieval pack (e.g.
// a channel-fed fake transport bracketing each read with start/complete
// callbacks) so internal/session's own test suite can drive the engine
// end to end without a real network.
package sessiontest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
)

// Adapter is a channel-backed fake implementing ports.Adapter.
type Adapter struct {
	endpoint        string
	protocolVersion byte

	inbound chan inboundItem

	mu              sync.Mutex
	sent            []message.Packet
	onReadStarted   func()
	onReadCompleted func()
	sendGate        chan struct{}
	failNextSend    error
}

type inboundItem struct {
	pkt message.Packet
	err error
}

// NewAdapter returns a fake Adapter with a random endpoint label and MQTT
// 3.1.1 (protocol level 4) negotiated.
func NewAdapter() *Adapter {
	return &Adapter{
		endpoint:        "fake://" + uuid.NewString(),
		protocolVersion: 4,
		inbound:         make(chan inboundItem, 64),
	}
}

// Feed queues packets to be returned by subsequent ReceivePacket calls, in
// order.
func (a *Adapter) Feed(pkts ...message.Packet) {
	for _, p := range pkts {
		a.inbound <- inboundItem{pkt: p}
	}
}

// CloseGracefully arranges for the next ReceivePacket to return (nil, nil):
// a non-erroring EOF-equivalent.
func (a *Adapter) CloseGracefully() {
	a.inbound <- inboundItem{}
}

// FailNextReceive arranges for the next ReceivePacket to return err.
func (a *Adapter) FailNextReceive(err error) {
	a.inbound <- inboundItem{err: err}
}

// FailNextSend arranges for the next SendPacket call to fail with err
// instead of recording the packet.
func (a *Adapter) FailNextSend(err error) {
	a.mu.Lock()
	a.failNextSend = err
	a.mu.Unlock()
}

// Stall makes subsequent SendPacket calls block until Resume is called,
// simulating a stalled peer for pending-count status tests.
func (a *Adapter) Stall() {
	a.mu.Lock()
	a.sendGate = make(chan struct{})
	a.mu.Unlock()
}

// Resume releases any SendPacket calls blocked by a prior Stall.
func (a *Adapter) Resume() {
	a.mu.Lock()
	gate := a.sendGate
	a.sendGate = nil
	a.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Sent returns a snapshot of every packet successfully sent so far, in
// send order.
func (a *Adapter) Sent() []message.Packet {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]message.Packet, len(a.sent))
	copy(out, a.sent)
	return out
}

func (a *Adapter) ReceivePacket(ctx context.Context) (message.Packet, error) {
	// The idle wait for the next packet's first byte is deliberately left
	// outside the started/completed bracket: that wait is exactly the span
	// the keep-alive deadline must be free to expire during. Only once
	// something has actually arrived on the wire do we bracket the
	// (here, trivial) work of finishing the read with a pause/resume.
	var item inboundItem
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case item = <-a.inbound:
	}

	a.mu.Lock()
	started := a.onReadStarted
	a.mu.Unlock()
	if started != nil {
		started()
	}
	defer func() {
		a.mu.Lock()
		completed := a.onReadCompleted
		a.mu.Unlock()
		if completed != nil {
			completed()
		}
	}()

	return item.pkt, item.err
}

func (a *Adapter) SendPacket(ctx context.Context, pkt message.Packet) error {
	a.mu.Lock()
	gate := a.sendGate
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNextSend != nil {
		err := a.failNextSend
		a.failNextSend = nil
		return err
	}
	a.sent = append(a.sent, pkt)
	return nil
}

func (a *Adapter) Endpoint() string      { return a.endpoint }
func (a *Adapter) ProtocolVersion() byte { return a.protocolVersion }

func (a *Adapter) OnReadStarted(f func()) {
	a.mu.Lock()
	a.onReadStarted = f
	a.mu.Unlock()
}

func (a *Adapter) OnReadCompleted(f func()) {
	a.mu.Lock()
	a.onReadCompleted = f
	a.mu.Unlock()
}
