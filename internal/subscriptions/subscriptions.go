// Package subscriptions maintains a single client's topic-filter
// subscriptions and performs MQTT wildcard matching and QoS downgrading
// against inbound application messages.
package subscriptions

import (
	"sync"

	"github.com/coalmine-labs/mqtt-session-engine/internal/logctx"
	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
)

// Interceptor lets a server-side collaborator override the outcome of a
// subscription request: change the granted QoS, reject it outright (SUBACK
// 0x80), or demand the connection be closed.
type Interceptor interface {
	InterceptSubscribe(filter string, requested message.QoS) (granted message.QoS, accept bool, closeConnection bool)
}

// CheckResult is the outcome of matching an application message against the
// client's current subscriptions.
type CheckResult struct {
	IsSubscribed bool
	EffectiveQoS message.QoS
}

// Manager stores the active topic filters for one client. It is mutated by
// the owning session (its receive loop and server-initiated Subscribe /
// Unsubscribe) while Check is read by other goroutines during registry
// fan-out, so its state is guarded by a mutex.
type Manager struct {
	mu          sync.RWMutex
	byFilter    map[string]message.QoS
	interceptor Interceptor
}

// New creates an empty Manager. interceptor may be nil.
func New(interceptor Interceptor) *Manager {
	return &Manager{
		byFilter:    make(map[string]message.QoS),
		interceptor: interceptor,
	}
}

// Subscribe applies a SUBSCRIBE request list, returning the SUBACK return
// codes in request order and whether the connection must be closed.
// Duplicate filters replace the prior entry for the same filter.
func (m *Manager) Subscribe(requests []message.SubscribeRequest) (returnCodes []message.QoS, closeConnection bool) {
	returnCodes = make([]message.QoS, len(requests))

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, req := range requests {
		granted := req.QoS
		accept := req.QoS.Valid()
		closeThis := false

		if accept && m.interceptor != nil {
			granted, accept, closeThis = m.interceptor.InterceptSubscribe(req.Filter, req.QoS)
		}

		if closeThis {
			closeConnection = true
		}

		if !accept {
			returnCodes[i] = message.SubscribeFailure
			logctx.Subscriptions.Infof("rejected subscription to %q", req.Filter)
			continue
		}

		m.byFilter[req.Filter] = granted
		returnCodes[i] = granted
	}

	return returnCodes, closeConnection
}

// Unsubscribe removes the named filters. Filters not currently present are
// silently tolerated.
func (m *Manager) Unsubscribe(filters []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range filters {
		delete(m.byFilter, f)
	}
}

// Check matches msg's topic against the current filter set and, if any
// filter matches, returns the effective QoS: the minimum of the message's
// own QoS and the highest QoS granted among matching filters.
func (m *Manager) Check(msg message.Application) CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := message.QoS(0)
	matched := false
	for filter, granted := range m.byFilter {
		if !message.MatchFilter(filter, msg.Topic) {
			continue
		}
		matched = true
		if granted > best {
			best = granted
		}
	}

	if !matched {
		return CheckResult{}
	}
	return CheckResult{IsSubscribed: true, EffectiveQoS: message.Downgrade(msg.QoS, best)}
}

// Filters returns those filters of only that are currently active, in the
// order given, used to drive retained-message replay after a SUBSCRIBE.
func (m *Manager) Filters(only []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(only))
	for _, f := range only {
		if _, ok := m.byFilter[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
