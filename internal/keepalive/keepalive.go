// Package keepalive watches a session's inter-packet idle time and reports
// a timeout when the peer has gone quiet for too long, per MQTT 3.1.1's
// recommended 1.5x keep-alive grace period.
package keepalive

import (
	"context"
	"sync"
	"time"

	"github.com/coalmine-labs/mqtt-session-engine/internal/logctx"
	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
)

// Monitor enforces a keep-alive deadline. A zero period disables enforcement
// entirely: Run then blocks until its context is cancelled and never times
// out.
type Monitor struct {
	period  time.Duration
	onTimeo func()
	clock   func() time.Time

	mu                          sync.Mutex
	lastPacketReceived          time.Time
	lastNonKeepAlivePacketRecvd time.Time
	paused                      bool

	wake chan struct{}
}

// New creates a Monitor. period is the negotiated keep_alive_period in
// seconds' worth of duration; 0 disables the timeout. onTimeout is invoked
// at most once, from the Monitor's own goroutine, when the deadline expires
// while the monitor is not paused.
func New(period time.Duration, onTimeout func(), clock func() time.Time) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	return &Monitor{
		period:                      period,
		onTimeo:                     onTimeout,
		clock:                       clock,
		lastPacketReceived:          now,
		lastNonKeepAlivePacketRecvd: now,
		wake:                        make(chan struct{}, 1),
	}
}

// deadline returns the 1.5x grace-period timeout per the MQTT spec.
func (m *Monitor) deadline() time.Duration {
	return m.period + m.period/2
}

// PacketReceived records that a packet of the given kind has just arrived,
// resetting the idle clock.
func (m *Monitor) PacketReceived(kind message.PacketKind) {
	m.mu.Lock()
	now := m.clock()
	m.lastPacketReceived = now
	if kind != message.KindPingReq {
		m.lastNonKeepAlivePacketRecvd = now
	}
	m.mu.Unlock()
}

// LastPacketReceived returns the timestamp of the most recently observed
// inbound packet of any kind.
func (m *Monitor) LastPacketReceived() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPacketReceived
}

// LastNonKeepAlivePacketReceived returns the timestamp of the most recent
// inbound packet excluding PINGREQ, surfaced for status/diagnostics.
func (m *Monitor) LastNonKeepAlivePacketReceived() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastNonKeepAlivePacketRecvd
}

// Pause suspends deadline enforcement, used while the adapter is actively
// receiving the bytes of a packet that has already started arriving, so a
// legitimately slow transfer is not mistaken for a dead peer. It must not be
// held during the idle wait for the next packet to start: that idle wait is
// the only window in which a silent peer can ever be detected.
func (m *Monitor) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume re-enables deadline enforcement and wakes the monitor's loop so it
// re-evaluates the deadline promptly rather than waiting for its next tick.
func (m *Monitor) Resume() {
	m.mu.Lock()
	m.paused = false
	m.lastPacketReceived = m.clock()
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run is the monitor's cooperative task. It checks the deadline every
// period/2 (or sooner, on Resume) until ctx is cancelled or it fires the
// timeout callback, whichever comes first.
func (m *Monitor) Run(ctx context.Context) error {
	if m.period <= 0 {
		<-ctx.Done()
		return nil
	}

	interval := m.period / 2
	if interval <= 0 {
		interval = m.period
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(0)
		case <-timer.C:
			if m.expired() {
				logctx.KeepAlive.Warningf("keep-alive deadline exceeded (period=%s)", m.period)
				m.onTimeo()
				return nil
			}
			timer.Reset(interval)
		}
	}
}

func (m *Monitor) expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return false
	}
	return m.clock().Sub(m.lastPacketReceived) > m.deadline()
}
