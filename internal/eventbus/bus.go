// Package eventbus implements the event surface described in the
// multiplexer's external interface: named, fan-out topics such as
// "ssh-output-<sessionId>" and "upload-progress" that the UI process
// subscribes to, and named incoming topics ("ssh-input-<sessionId>",
// "ssh-resize-<sessionId>") that the UI publishes to. It is the core's
// half of the two-sink design in §9: legacy pollers use drain_output,
// subscribers here get pushed events as soon as they're emitted.
//
// This generalizes the room-broadcast Hub pattern: topics replace rooms,
// and there is no per-connection identity or collaboration metadata —
// just byte payloads fanned out to whoever is listening on a topic.
package eventbus

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Envelope is the wire shape for every event published on the bus.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type subscriber struct {
	id int64
	ch chan Envelope
}

// Bus is a process-wide named-topic publish/subscribe fan-out. Publish
// never blocks: a subscriber whose buffer is full misses the event rather
// than stalling the publisher, matching the "best-effort per sink" delivery
// policy in §4.3.
type Bus struct {
	log *zap.Logger

	mu     sync.RWMutex
	topics map[string]map[int64]*subscriber
	nextID int64
}

// New creates an empty bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:    log,
		topics: make(map[string]map[int64]*subscriber),
	}
}

// Subscribe registers a new listener on topic and returns its channel plus
// an unsubscribe function. The channel is closed by unsubscribe.
func (b *Bus) Subscribe(topic string, buffer int) (<-chan Envelope, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, ch: make(chan Envelope, buffer)}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int64]*subscriber)
	}
	b.topics[topic][id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[topic]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(sub.ch)
			}
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish marshals payload and fans it out to every current subscriber of
// topic. It is a no-op (beyond the marshal) if nobody is listening.
func (b *Bus) Publish(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("eventbus: failed to marshal payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	env := Envelope{Topic: topic, Payload: data}

	b.mu.RLock()
	subs := b.topics[topic]
	targets := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- env:
		default:
			b.log.Debug("eventbus: subscriber buffer full, dropping event", zap.String("topic", topic))
		}
	}
}

// SubscriberCount reports how many listeners a topic currently has. Useful
// for tests.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
