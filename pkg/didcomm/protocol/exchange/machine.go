/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/event"
)

var logger = log.New("didcomm-engine/protocol/exchange")

// Machine drives one role of one protocol over persisted records. All
// transitions for a thread are serialized; concurrent Apply calls for the same
// thread id queue behind each other and each sees the latest persisted record.
type Machine struct {
	def    Definition
	store  *Store
	locks  *threadLocks
	bus    *event.Bus
	notify func(service.StateMsg)
}

// MachineOption configures the Machine.
type MachineOption func(*Machine)

// WithEventBus attaches the bus state-changed events are emitted on.
func WithEventBus(bus *event.Bus) MachineOption {
	return func(m *Machine) {
		m.bus = bus
	}
}

// WithStateNotifier sets the callback receiving pre and post state messages.
// The protocol service uses it to feed its registered message-event channels.
func WithStateNotifier(notify func(service.StateMsg)) MachineOption {
	return func(m *Machine) {
		m.notify = notify
	}
}

// NewMachine returns a Machine for the given definition.
func NewMachine(def Definition, store *Store, opts ...MachineOption) (*Machine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		def:   def,
		store: store,
		locks: newThreadLocks(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Definition returns the protocol definition the machine drives.
func (m *Machine) Definition() Definition {
	return m.def
}

// Current returns the persisted record for the thread, or a fresh one in
// StateStart when the thread is new.
func (m *Machine) Current(threadID, connectionID string) (*Record, error) {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	return m.loadOrNew(threadID, connectionID, "")
}

// Apply validates the event against the record's current state and, when legal,
// persists the transition before emitting the state notifications. The returned
// flag reports whether a transition actually happened.
//
// Re-delivery of a message already applied for the same event is a no-op: the
// record is returned unchanged with no error, no notifications and applied set
// to false. An event with no table entry for the current state returns
// ErrIllegalTransition and leaves the record untouched.
//
// Notifications are delivered after the thread lock has been released, so a
// notifier or bus subscriber may call back into the machine, including for the
// same thread.
func (m *Machine) Apply(threadID, connectionID string, ev EventName,
	msg service.DIDCommMsgMap) (*Record, bool, error) {
	before, after, next, applied, err := m.transition(threadID, connectionID, ev, msg)
	if err != nil || !applied {
		return after, false, err
	}

	m.emitStateMsg(service.PreState, next, msg, before, nil)
	m.emitStateMsg(service.PostState, next, msg, before, after)
	m.emitStateChanged(before, after)

	return after, true, nil
}

// transition is the locked part of Apply: it validates the event, mutates the
// record and persists it. The transition must survive a crash before any
// observer reacts to it, so the save happens here and the notifications only
// after the lock is gone.
func (m *Machine) transition(threadID, connectionID string, ev EventName,
	msg service.DIDCommMsgMap) (before, after *Record, next StateName, applied bool, err error) {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	record, err := m.loadOrNew(threadID, connectionID, msg.ParentThreadID())
	if err != nil {
		return nil, nil, "", false, err
	}

	if msg != nil && record.MessageRefs[string(ev)] == msg.ID() && msg.ID() != "" {
		logger.Debugf("%s: message %s already applied on thread %s, ignoring re-delivery",
			m.def.Protocol, msg.ID(), threadID)

		return nil, record.Clone(), "", false, nil
	}

	next, ok := m.def.next(StateName(record.StateName), ev)
	if !ok {
		return nil, nil, "", false, fmt.Errorf("%w: protocol %s event %s in state %s (thread %s)",
			ErrIllegalTransition, m.def.Protocol, ev, record.StateName, threadID)
	}

	before = record.Clone()

	record.StateName = string(next)

	if msg != nil && msg.ID() != "" {
		record.MessageRefs[string(ev)] = msg.ID()
	}

	if msg != nil {
		record.LastMsg = msg.Clone()
	}

	if ev == EventProblemReport {
		captureProblem(record, msg)
	}

	if err := m.store.Save(record); err != nil {
		return nil, nil, "", false, fmt.Errorf("%s: persist transition to %s: %w", m.def.Protocol, next, err)
	}

	return before, record.Clone(), next, true, nil
}

// MarkOutbound records the id and state of the last message this side sent on
// the thread. On recovery the marker tells apart a crash before and after the
// send.
func (m *Machine) MarkOutbound(threadID, connectionID, msgID string) error {
	unlock := m.locks.Lock(threadID)
	defer unlock()

	record, err := m.store.Get(m.def.Protocol, threadID, connectionID)
	if err != nil {
		return err
	}

	record.LastOutboundID = msgID
	record.LastOutboundState = record.StateName

	return m.store.Save(record)
}

// Abandon applies the problem-report event with the given code, for locally
// initiated declines.
func (m *Machine) Abandon(threadID, connectionID, code, comment string) (*Record, error) {
	msg := service.DIDCommMsgMap{
		"@id":         "",
		"description": map[string]interface{}{"code": code, "en": comment},
		"comment":     comment,
	}

	record, _, err := m.Apply(threadID, connectionID, EventProblemReport, msg)

	return record, err
}

// Recover invokes fn for every non-terminal record of this protocol, letting
// the caller resume interrupted exchanges after a restart.
func (m *Machine) Recover(fn func(*Record) error) error {
	records, err := m.store.QueryByProtocol(m.def.Protocol)
	if err != nil {
		return err
	}

	for _, record := range records {
		if m.def.IsTerminal(StateName(record.StateName)) {
			continue
		}

		if record.Role != m.def.Role {
			continue
		}

		if err := fn(record); err != nil {
			return fmt.Errorf("%s: recover thread %s: %w", m.def.Protocol, record.ThreadID, err)
		}
	}

	return nil
}

func (m *Machine) loadOrNew(threadID, connectionID, parentThreadID string) (*Record, error) {
	record, err := m.store.Get(m.def.Protocol, threadID, connectionID)
	if err == nil {
		if record.MessageRefs == nil {
			record.MessageRefs = map[string]string{}
		}

		return record, nil
	}

	if !isNotFound(err) {
		return nil, err
	}

	return &Record{
		ProtocolName:    m.def.Protocol,
		ProtocolVersion: m.def.Version,
		Role:            m.def.Role,
		StateName:       string(StateStart),
		ThreadID:        threadID,
		ParentThreadID:  parentThreadID,
		ConnectionID:    connectionID,
		MessageRefs:     map[string]string{},
	}, nil
}

func (m *Machine) emitStateMsg(msgType service.StateMsgType, state StateName,
	msg service.DIDCommMsgMap, before, after *Record) {
	if m.notify == nil {
		return
	}

	m.notify(service.StateMsg{
		ProtocolName: m.def.Protocol,
		Type:         msgType,
		StateID:      string(state),
		Msg:          msg,
		Properties:   NewProps(before, after),
	})
}

func (m *Machine) emitStateChanged(before, after *Record) {
	if m.bus == nil {
		return
	}

	m.bus.Emit(event.Event{
		Topic: event.StateTopic(m.def.Protocol),
		Payload: event.StateChangedProps{
			ProtocolName: m.def.Protocol,
			ThreadID:     after.ThreadID,
			ConnectionID: after.ConnectionID,
			Before:       before.StateName,
			After:        after.StateName,
		},
	})
}

func captureProblem(record *Record, msg service.DIDCommMsgMap) {
	if msg == nil {
		return
	}

	if desc, ok := msg["description"].(map[string]interface{}); ok {
		if code, ok := desc["code"].(string); ok {
			record.ProblemCode = code
		}
	}

	if comment, ok := msg["comment"].(string); ok {
		record.ProblemComment = comment
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
