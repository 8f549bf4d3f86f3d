// Package outbound implements the bounded pending-publish queue and its
// dedicated sender task: the producer/consumer boundary between the
// session's receive loop (and registry fan-out) and the channel adapter.
package outbound

import (
	"container/list"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/coalmine-labs/mqtt-session-engine/internal/logctx"
	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
)

// OverflowStrategy governs what happens when Enqueue is called on a full
// queue.
type OverflowStrategy int

const (
	// DropNewMessage silently discards the incoming packet.
	DropNewMessage OverflowStrategy = iota
	// DropOldestQueuedMessage discards the head of the queue before
	// enqueueing the new packet.
	DropOldestQueuedMessage
)

// Sender is the subset of the channel adapter the sender task needs.
type Sender interface {
	SendPacket(ctx context.Context, pkt message.Packet) error
}

// Queue is a bounded FIFO of packets awaiting transmission, guarded by a
// mutex, with an edge-triggered wake signal that coalesces multiple
// enqueues into a single wake of the sender task.
type Queue struct {
	max      int
	strategy OverflowStrategy

	mu    sync.Mutex
	items *list.List

	wake chan struct{}

	sentPackets uint64

	// onSendFailure is invoked (outside any lock) whenever the sender hits a
	// non-cancellation send error, asking the owning session to terminate
	// uncleanly. May be nil in tests that only exercise queue mechanics.
	onSendFailure func(err error)
}

// New creates a Queue bounded at max entries with the given overflow
// strategy. onSendFailure may be nil.
func New(max int, strategy OverflowStrategy, onSendFailure func(err error)) *Queue {
	if max <= 0 {
		max = 1
	}
	return &Queue{
		max:           max,
		strategy:      strategy,
		items:         list.New(),
		wake:          make(chan struct{}, 1),
		onSendFailure: onSendFailure,
	}
}

// Enqueue adds pkt to the tail of the queue, applying the configured
// overflow strategy if the queue is already at its bound, then signals the
// sender task.
func (q *Queue) Enqueue(pkt message.Packet) {
	q.mu.Lock()
	if q.items.Len() >= q.max {
		switch q.strategy {
		case DropNewMessage:
			q.mu.Unlock()
			logctx.Queue.Infof("queue full, dropping new message")
			return
		case DropOldestQueuedMessage:
			q.items.Remove(q.items.Front())
			logctx.Queue.Infof("queue full, dropped oldest queued message")
		}
	}
	q.items.PushBack(pkt)
	q.mu.Unlock()
	q.signal()
}

// requeueTail re-inserts pkt at the tail without applying the overflow
// strategy: it is an already-dequeued in-flight packet being retried, not a
// fresh arrival.
func (q *Queue) requeueTail(pkt message.Packet) {
	q.mu.Lock()
	q.items.PushBack(pkt)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (message.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Front()
	if e == nil {
		return nil, false
	}
	q.items.Remove(e)
	return e.Value.(message.Packet), true
}

// Len returns the current number of pending packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// SentPackets returns the number of packets successfully handed to the
// adapter over this queue's lifetime.
func (q *Queue) SentPackets() uint64 {
	return atomic.LoadUint64(&q.sentPackets)
}

// Clear discards all currently queued packets. Best effort: a packet
// already popped for sending is not recalled.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items.Init()
	q.mu.Unlock()
}

// Run is the sender task: it drains the queue onto sender until ctx is
// cancelled. Send failures on a QoS>0 PUBLISH set its DUP flag and requeue
// it at the tail; any non-cancellation failure also asks the owning session
// to stop uncleanly.
func (q *Queue) Run(ctx context.Context, sender Sender) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkt, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.wake:
			}
			continue
		}

		err := sender.SendPacket(ctx, pkt)
		if err == nil {
			atomic.AddUint64(&q.sentPackets, 1)
			continue
		}

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Cooperative cancellation: silent, no further sends.
			return nil
		}

		if pub, ok := pkt.(*message.PublishPacket); ok && pub.QoS > 0 {
			pub.Dup = true
			q.requeueTail(pub)
		}

		logSendFailure(err)

		if q.onSendFailure != nil {
			q.onSendFailure(err)
		}
	}
}

func logSendFailure(err error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		logctx.Queue.Warningf("send timed out: %v", err)
		return
	}
	logctx.Queue.Warningf("send failed: %v", err)
}
