package sessiontest

import (
	"sync"

	"github.com/coalmine-labs/mqtt-session-engine/internal/message"
	"github.com/coalmine-labs/mqtt-session-engine/internal/ports"
)

// Delivery records one call to Registry.EnqueueApplicationMessage.
type Delivery struct {
	SenderClientID string
	HasSender      bool
	Message        message.Application
}

// Registry is a fake ports.Registry that just records every delivery
// handed to it, standing in for the broker-wide fan-out this engine does
// not implement.
type Registry struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) EnqueueApplicationMessage(sender ports.EnqueueSource, msg message.Application) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := Delivery{Message: msg}
	if sender != nil {
		d.HasSender = true
		d.SenderClientID = sender.ClientID()
	}
	r.deliveries = append(r.deliveries, d)
}

// Deliveries returns a snapshot of every delivery recorded so far.
func (r *Registry) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// RetainedStore is a fake ports.RetainedStore backed by a static list of
// retained messages, matched against the requested filters with the same
// wildcard rules the subscriptions manager uses.
type RetainedStore struct {
	messages []message.Application
}

func NewRetainedStore(messages ...message.Application) *RetainedStore {
	return &RetainedStore{messages: messages}
}

func (s *RetainedStore) GetSubscribed(filters []string) []message.Application {
	var out []message.Application
	for _, m := range s.messages {
		for _, f := range filters {
			if message.MatchFilter(f, m.Topic) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
