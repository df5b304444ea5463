// Package stream implements hive's Stream Server (spec §4.6): a resumable,
// per-project Server-Sent-Events feed over the event log plus a one-shot
// JSON read path. Grounded on the donor's internal/rpc/http_sse.go and
// internal/rpc/server.go, keeping only their in-memory fan-out path —
// spec §4.6/§6 explicitly rule out an external broker, so the donor's
// JetStream-backed path (internal/rpc/http_sse.go's streamFromJetStream)
// has no home here (see DESIGN.md).
package stream

import (
	"sync"

	"github.com/hiveswarm/hive/internal/types"
)

// subscriberBuffer bounds how many events a slow SSE client can lag behind;
// once its channel is full, further events are skipped for it (see
// Publish). Matches the donor's sseSubscriber channel size.
const subscriberBuffer = 64

// recentBufferSize bounds the in-memory backlog kept per project and
// returned by Recent.
const recentBufferSize = 1000

type subscriber struct {
	id uint64
	ch chan types.Event
}

// Broker fans out newly appended events to live subscribers for one
// project, and keeps a ring buffer of the last recentBufferSize published
// events, readable via Recent. The HTTP handlers in http.go read their
// backlog from the event store, not from this buffer.
type Broker struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	nextSubID   uint64
	recent      []types.Event
}

// NewBroker returns an empty per-project broker.
func NewBroker() *Broker {
	return &Broker{recent: make([]types.Event, 0, recentBufferSize)}
}

// Publish fans ev out to every live subscriber and appends it to the recent
// buffer. A subscriber whose channel is full is skipped for this event
// rather than blocking the publisher — a slow SSE client must not stall
// writers (spec §4.6's live stream is best-effort beyond the durable event
// log, which is the source of truth).
func (b *Broker) Publish(ev types.Event) {
	b.mu.Lock()
	b.recent = append(b.recent, ev)
	if len(b.recent) > recentBufferSize {
		b.recent = b.recent[len(b.recent)-recentBufferSize:]
	}
	subs := make([]*subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new live listener and returns its channel plus an
// unsubscribe function. Always call unsubscribe, typically via defer, once
// the caller stops reading — it closes the channel and frees the slot.
func (b *Broker) Subscribe() (<-chan types.Event, func()) {
	sub := &subscriber{ch: make(chan types.Event, subscriberBuffer)}

	b.mu.Lock()
	b.nextSubID++
	sub.id = b.nextSubID
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, existing := range b.subscribers {
			if existing.id == sub.id {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
	return sub.ch, unsubscribe
}

// Recent returns buffered events with Sequence > afterSequence, oldest
// first. It only covers what Publish has seen since the broker was created;
// callers needing durable history before that should read the event store
// directly, as writeOneShot and writeLive in http.go do.
func (b *Broker) Recent(afterSequence int64) []types.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []types.Event
	for _, ev := range b.recent {
		if ev.Sequence > afterSequence {
			out = append(out, ev)
		}
	}
	return out
}

// Registry owns one Broker per project_key, created on first use.
// Grounded on spec §13's Registry decision (internal/facade.Registry) —
// this is the stream-specific sibling that the facade's get_or_create
// delegates to for event fan-out.
type Registry struct {
	mu      sync.Mutex
	brokers map[string]*Broker
}

// NewRegistry returns an empty project-keyed broker registry.
func NewRegistry() *Registry {
	return &Registry{brokers: make(map[string]*Broker)}
}

// Get returns the broker for projectKey, creating it on first use.
func (r *Registry) Get(projectKey string) *Broker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.brokers[projectKey]
	if !ok {
		b = NewBroker()
		r.brokers[projectKey] = b
	}
	return b
}
