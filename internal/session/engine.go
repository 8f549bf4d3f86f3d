// Package session implements the Session Engine: the per-connection
// orchestrator that owns a client's packet identifier allocator, keep-alive
// monitor, subscriptions manager and pending outbound queue, drives the
// MQTT receive loop, and mediates publish fan-out with the surrounding
// broker registry.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coalmine-labs/mqtt-session-engine/internal/idalloc"
	"github.com/coalmine-labs/mqtt-session-engine/internal/keepalive"
	"github.com/coalmine-labs/mqtt-session-engine/internal/logctx"
	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
	"github.com/coalmine-labs/mqtt-session-engine/internal/outbound"
	"github.com/coalmine-labs/mqtt-session-engine/internal/ports"
	"github.com/coalmine-labs/mqtt-session-engine/internal/subscriptions"
)

// StopReason distinguishes an orderly client-initiated DISCONNECT from
// every other way a session's connection can end.
type StopReason int

const (
	// StopClean is an orderly DISCONNECT from the client; the will is never
	// sent.
	StopClean StopReason = iota
	// StopNotClean is every other termination: I/O failure, protocol
	// violation, keep-alive timeout, graceful peer close without a prior
	// DISCONNECT. The will (if any) is sent exactly once.
	StopNotClean
)

func (r StopReason) String() string {
	if r == StopClean {
		return "clean"
	}
	return "not-clean"
}

// Engine is one connected client's session: the central entity described
// in the data model, owning its subordinate components (packet id
// allocator, keep-alive monitor, subscriptions manager, pending outbound
// queue) exclusively.
type Engine struct {
	clientID string
	registry ports.Registry
	retained ports.RetainedStore
	options  Options

	ids       *idalloc.Allocator
	subs      *subscriptions.Manager
	queue     *outbound.Queue
	keepAlive *keepalive.Monitor

	// mu guards the mutable triplet (adapter, will, wasCleanDisconnect)
	// plus the lifetime cancellation function and stopped flag, per the
	// design note confining these to short, non-awaiting critical sections.
	mu                 sync.Mutex
	adapter            ports.Adapter
	will               *message.Application
	wasCleanDisconnect bool
	cancel             context.CancelFunc
	stopped            bool
	stopCause          error
}

// New creates a session Engine for clientID. registry and retained are the
// broker-wide collaborators this engine fans publishes out through and
// replays retained messages from; retained may be nil if the broker has no
// retained-message support.
func New(clientID string, registry ports.Registry, retained ports.RetainedStore, opts Options) *Engine {
	e := &Engine{
		clientID: clientID,
		registry: registry,
		retained: retained,
		options:  opts,
		ids:      idalloc.New(),
	}
	e.subs = subscriptions.New(opts.SubscriptionInterceptor)
	e.queue = outbound.New(opts.maxPending(), opts.OverflowStrategy, func(err error) {
		e.recordStopCause(fmt.Errorf("%w: %v", ErrCommunicationFailure, err))
		e.Stop(StopNotClean)
	})
	return e
}

// ClientID returns the session's client identifier, satisfying
// ports.EnqueueSource so the session can identify itself as the sender
// when handing a publish to the registry.
func (e *Engine) ClientID() string { return e.clientID }

// Run drives one connection's lifetime: it installs adapter, captures the
// will message and keep-alive period from connect, starts the sender and
// keep-alive tasks alongside the receive loop, and blocks until the
// connection ends. It returns whether the session ended via a clean
// client-initiated DISCONNECT.
func (e *Engine) Run(ctx context.Context, connect *message.ConnectPacket, adapter ports.Adapter) bool {
	sessionCtx, cancel := context.WithCancel(ctx)

	keepAlivePeriod := time.Duration(connect.KeepAlive) * time.Second
	keepAlive := keepalive.New(keepAlivePeriod, func() { e.Stop(StopNotClean) }, e.options.clock())

	e.mu.Lock()
	e.adapter = adapter
	e.will = connect.Will
	e.wasCleanDisconnect = false
	e.cancel = cancel
	e.stopped = false
	e.keepAlive = keepAlive
	e.mu.Unlock()

	// The adapter only invokes these once a packet has actually started
	// arriving, never during the idle wait for the next one — otherwise a
	// silently dead peer would pause the monitor forever. See
	// ports.Adapter.OnReadStarted.
	adapter.OnReadStarted(keepAlive.Pause)
	adapter.OnReadCompleted(keepAlive.Resume)

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error { return e.queue.Run(gctx, adapter) })
	g.Go(func() error { return keepAlive.Run(gctx) })
	g.Go(func() error { return e.receiveLoop(gctx, adapter) })
	_ = g.Wait()

	adapter.OnReadStarted(nil)
	adapter.OnReadCompleted(nil)

	e.mu.Lock()
	e.adapter = nil
	wasClean := e.wasCleanDisconnect
	e.mu.Unlock()

	cancel()

	logctx.Session.Debugf("[%s] run finished, was_clean_disconnect=%v", e.clientID, wasClean)
	return wasClean
}

// Stop terminates the session. It is idempotent: only the first call has
// any effect. A non-clean stop sends the will exactly once, if one was
// captured at connect and not already consumed.
func (e *Engine) Stop(reason StopReason) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.wasCleanDisconnect = reason == StopClean
	cancel := e.cancel
	will := e.will
	e.will = nil
	e.mu.Unlock()

	logctx.Session.Infof("[%s] stop(%s)", e.clientID, reason)

	if cancel != nil {
		cancel()
	}

	if reason != StopClean && will != nil && e.registry != nil {
		e.registry.EnqueueApplicationMessage(e, *will)
	}
}

// recordStopCause attaches the reason a non-clean stop is about to happen,
// so FillStatus can later report it via errors.Is(status.StopCause,
// ErrProtocolViolation) / ErrCommunicationFailure. Only the first recorded
// cause sticks, matching Stop's own idempotency.
func (e *Engine) recordStopCause(err error) {
	e.mu.Lock()
	if e.stopCause == nil {
		e.stopCause = err
	}
	e.mu.Unlock()
}
