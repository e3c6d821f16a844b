// Package events fans trip events out to SSE and WebSocket subscribers.
package events

import (
	"strconv"
	"sync"

	"rbus/internal/metrics"
)

type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Publisher is the write half used by the matching engine.
type Publisher interface {
	Publish(topic string, evt Event)
}

// Bus is what the HTTP layer subscribes through.
type Bus interface {
	Publisher
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
}

// TripTopic is the topic a trip's events are published on.
func TripTopic(id int64) string { return "trip:" + strconv.FormatInt(id, 10) }

// Broker is the in-process Bus. Slow subscribers drop events rather than block publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	metrics.EventSubscribers.Inc()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	m := b.subs[topic]
	_, ok := m[ch]
	if ok {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, topic)
		}
	}
	b.mu.Unlock()
	if ok {
		close(ch)
		metrics.EventSubscribers.Dec()
	}
}

func (b *Broker) Publish(topic string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Discard drops every event; used when no subscriber transport is wired.
type Discard struct{}

func (Discard) Publish(string, Event) {}
