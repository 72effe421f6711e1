package api

import (
	"context"
	"sync"
	"time"

	"eldhos/internal/eld"
)

// SSEEvent is one message on a driver's live stream.
type SSEEvent struct {
	Type     string    `json:"type"`
	DriverID string    `json:"driverId"`
	At       time.Time `json:"at"`
	Data     any       `json:"data,omitempty"`
}

// EventBroker fans driver events out to stream subscribers.
type EventBroker interface {
	Subscribe(driverID string) chan SSEEvent
	Unsubscribe(driverID string, ch chan SSEEvent)
	Publish(driverID string, evt SSEEvent)
}

// Broker is the in-process EventBroker. Slow subscribers drop events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // driverID -> subscribers
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(driverID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[driverID] == nil {
		b.subs[driverID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[driverID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(driverID string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[driverID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, driverID)
	}
	close(ch)
}

func (b *Broker) Publish(driverID string, evt SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[driverID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// BrokerPublisher forwards compliance events to a broker. It satisfies
// eld.Publisher.
type BrokerPublisher struct {
	Broker EventBroker
}

func (p BrokerPublisher) Publish(_ context.Context, e eld.Event) {
	p.Broker.Publish(e.DriverID, SSEEvent{Type: e.Type, DriverID: e.DriverID, At: e.At, Data: e.Data})
}
