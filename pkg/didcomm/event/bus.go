/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package event provides the agent-scoped lifecycle event bus. The bus is scoped
// to one engine instance rather than process-wide, so multi-tenant deployments do
// not leak events across tenants. Delivery is synchronous fan-out with no
// persistence or replay: subscribers that need an event must subscribe before
// triggering the action that produces it.
package event

import (
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"
)

var logger = log.New("didcomm-engine/event")

// Lifecycle topics emitted by the messaging core.
const (
	// TopicMessageReceived is emitted after an envelope has been unpacked, before
	// it is dispatched.
	TopicMessageReceived = "message-received"

	// TopicMessageProcessed is emitted after dispatch completes, success or
	// handled failure, unconditionally. Transports waiting before closing an
	// inbound channel key off this topic.
	TopicMessageProcessed = "message-processed"
)

// StateTopic returns the state-changed topic for the given protocol name,
// e.g. "issue-credential/state-changed".
func StateTopic(protocolName string) string {
	return protocolName + "/state-changed"
}

// Event is a transient lifecycle notification. Not persisted.
type Event struct {
	Topic   string
	Payload interface{}
}

// MessageProps describes the message a lifecycle event refers to.
type MessageProps struct {
	MessageID    string
	MessageType  string
	ThreadID     string
	ConnectionID string
	// Err is set on TopicMessageProcessed when processing failed.
	Err error
}

// StateChangedProps describes an exchange record transition.
type StateChangedProps struct {
	ProtocolName string
	ThreadID     string
	ConnectionID string
	// Before and After are record snapshots around the transition.
	Before interface{}
	After  interface{}
}

// Handler consumes events. Handlers run synchronously on the emitter's
// goroutine; slow handlers delay delivery to later subscribers.
type Handler func(Event)

// Bus is a synchronous fan-out publisher. Subscribers receive events in
// registration order; a panicking subscriber does not prevent delivery to
// subsequent subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
	next int
}

type subscription struct {
	id      int
	handler Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

// Subscribe registers the handler for the given topic and returns an
// unsubscribe function.
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	b.mu.Lock()
	b.next++
	sub := &subscription{id: b.next, handler: handler}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		list := b.subs[topic]
		for i := range list {
			if list[i].id == sub.id {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Emit delivers the event to all current subscribers of its topic, in
// registration order. Emit on a nil bus is a no-op, so event emission can stay
// optional for embedders that do not wire a bus.
func (b *Bus) Emit(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	subs := append(b.subs[event.Topic][:0:0], b.subs[event.Topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		deliver(sub.handler, event)
	}
}

func deliver(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("event subscriber panicked on topic %s: %v", event.Topic, r)
		}
	}()

	handler(event)
}
