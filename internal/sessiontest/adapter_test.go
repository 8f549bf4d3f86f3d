package sessiontest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
)

// TestReceivePacketDoesNotBracketIdleWait is the regression test for the
// bug where OnReadStarted fired at the top of ReceivePacket, pausing the
// keep-alive deadline for the entire idle wait rather than just the span
// after a packet actually starts arriving.
func TestReceivePacketDoesNotBracketIdleWait(t *testing.T) {
	adapter := NewAdapter()

	var started, completed atomic.Int32
	adapter.OnReadStarted(func() { started.Add(1) })
	adapter.OnReadCompleted(func() { completed.Add(1) })

	result := make(chan struct{})
	go func() {
		_, _ = adapter.ReceivePacket(context.Background())
		close(result)
	}()

	// No packet fed yet: the idle wait must not have invoked either
	// callback, no matter how long it runs.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), started.Load(), "OnReadStarted must not fire during the idle wait")
	require.Equal(t, int32(0), completed.Load())

	adapter.Feed(&message.DisconnectPacket{})
	<-result

	require.Equal(t, int32(1), started.Load(), "OnReadStarted must fire once a packet has actually arrived")
	require.Equal(t, int32(1), completed.Load())
}

func TestReceivePacketBracketsNeitherCallbackOnCancellation(t *testing.T) {
	adapter := NewAdapter()

	var started, completed atomic.Int32
	adapter.OnReadStarted(func() { started.Add(1) })
	adapter.OnReadCompleted(func() { completed.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adapter.ReceivePacket(ctx)
	require.Error(t, err)
	require.Equal(t, int32(0), started.Load())
	require.Equal(t, int32(0), completed.Load())
}
