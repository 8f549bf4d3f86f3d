package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
	"github.com/stretchr/testify/require"
)

func publishQoS0(topic string) *message.PublishPacket {
	return &message.PublishPacket{Publish: message.Publish{
		Application: message.Application{Topic: topic, QoS: message.QoS0},
	}}
}

func TestEnqueueNeverExceedsBound(t *testing.T) {
	q := New(2, DropNewMessage, nil)
	q.Enqueue(publishQoS0("a"))
	q.Enqueue(publishQoS0("b"))
	q.Enqueue(publishQoS0("c"))
	require.LessOrEqual(t, q.Len(), 2)
}

func TestDropNewMessageKeepsPrefix(t *testing.T) {
	q := New(2, DropNewMessage, nil)
	q.Enqueue(publishQoS0("p1"))
	q.Enqueue(publishQoS0("p2"))
	q.Enqueue(publishQoS0("p3")) // dropped: queue already full

	var delivered []string
	for {
		pkt, ok := q.pop()
		if !ok {
			break
		}
		delivered = append(delivered, pkt.(*message.PublishPacket).Topic)
	}
	require.Equal(t, []string{"p1", "p2"}, delivered)
}

func TestDropOldestQueuedMessageKeepsSuffix(t *testing.T) {
	q := New(2, DropOldestQueuedMessage, nil)
	q.Enqueue(publishQoS0("p1"))
	q.Enqueue(publishQoS0("p2"))
	q.Enqueue(publishQoS0("p3")) // p1 evicted

	var delivered []string
	for {
		pkt, ok := q.pop()
		if !ok {
			break
		}
		delivered = append(delivered, pkt.(*message.PublishPacket).Topic)
	}
	require.Equal(t, []string{"p2", "p3"}, delivered)
}

// scriptedSender fails the first N sends of a given topic, then succeeds.
type scriptedSender struct {
	mu      sync.Mutex
	sent    []message.Packet
	failFor map[string]int
}

func (s *scriptedSender) SendPacket(ctx context.Context, pkt message.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := pkt.(*message.PublishPacket)
	if ok && s.failFor[pub.Topic] > 0 {
		s.failFor[pub.Topic]--
		return errors.New("simulated transient failure")
	}
	cp := *pub
	s.sent = append(s.sent, &cp)
	return nil
}

func (s *scriptedSender) snapshot() []message.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Packet, len(s.sent))
	copy(out, s.sent)
	return out
}

func TestSendFailureSetsDupAndRequeuesAtTail(t *testing.T) {
	q := New(10, DropNewMessage, func(err error) {})
	sender := &scriptedSender{failFor: map[string]int{"t": 1}}

	pub := &message.PublishPacket{Publish: message.Publish{
		Application: message.Application{Topic: "t", QoS: message.QoS1},
		PacketID:    7,
	}}
	require.False(t, pub.Dup)
	q.Enqueue(pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx, sender)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(sender.snapshot()) == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	sent := sender.snapshot()
	require.Len(t, sent, 1)
	got := sent[0].(*message.PublishPacket)
	require.True(t, got.Dup, "retried publish must carry dup=true")
	require.Equal(t, uint16(7), got.PacketID)
}

func TestSendFailureTriggersUncleanStopCallback(t *testing.T) {
	var calledWith error
	var mu sync.Mutex
	q := New(10, DropNewMessage, func(err error) {
		mu.Lock()
		calledWith = err
		mu.Unlock()
	})
	sender := &scriptedSender{failFor: map[string]int{"t": 100}}
	q.Enqueue(&message.PublishPacket{Publish: message.Publish{
		Application: message.Application{Topic: "t", QoS: message.QoS1},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, sender)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calledWith != nil
	}, time.Second, time.Millisecond)
}

func TestCancellationStopsSenderWithoutFurtherSends(t *testing.T) {
	q := New(10, DropNewMessage, nil)
	sender := &scriptedSender{failFor: map[string]int{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before Run starts

	err := q.Run(ctx, sender)
	require.NoError(t, err)
	require.Empty(t, sender.snapshot())
}

func TestSuccessfulSendIncrementsSentPacketsCount(t *testing.T) {
	q := New(10, DropNewMessage, nil)
	sender := &scriptedSender{failFor: map[string]int{}}
	q.Enqueue(publishQoS0("ok"))

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx, sender)

	require.Eventually(t, func() bool { return q.SentPackets() == 1 }, time.Second, time.Millisecond)
	cancel()
}

func TestClearDiscardsAllQueuedPackets(t *testing.T) {
	q := New(10, DropNewMessage, nil)
	q.Enqueue(publishQoS0("a"))
	q.Enqueue(publishQoS0("b"))
	q.Clear()
	require.Equal(t, 0, q.Len())
}
