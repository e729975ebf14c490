/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import "sync"

// Action holds the single channel a protocol service delivers action events on.
// Embedded by the protocol services.
type Action struct {
	mu sync.Mutex
	ch chan<- DIDCommAction
}

// ActionEvent returns the registered action channel, or nil when none is
// registered.
func (a *Action) ActionEvent() chan<- DIDCommAction {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.ch
}

// RegisterActionEvent registers the channel protocol actions are delivered on.
// The consumer must invoke Continue or Stop on each action to resume
// processing. At most one channel can be registered at a time.
func (a *Action) RegisterActionEvent(ch chan<- DIDCommAction) error {
	if ch == nil {
		return ErrNilChannel
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ch != nil {
		return ErrChannelRegistered
	}

	a.ch = ch

	return nil
}

// UnregisterActionEvent releases the registered action channel. The channel
// must be the one passed to RegisterActionEvent.
func (a *Action) UnregisterActionEvent(ch chan<- DIDCommAction) error {
	if ch == nil {
		return ErrNilChannel
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ch != ch {
		return ErrInvalidChannel
	}

	a.ch = nil

	return nil
}

// Message fans protocol state messages out to the registered listener
// channels. Unlike action events, state messages are pure notifications and
// expect no callback. Embedded by the protocol services.
type Message struct {
	mu        sync.RWMutex
	listeners map[chan<- StateMsg]struct{}
}

// RegisterMsgEvent adds a listener channel for protocol state messages.
func (m *Message) RegisterMsgEvent(ch chan<- StateMsg) error {
	if ch == nil {
		return ErrNilChannel
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listeners == nil {
		m.listeners = make(map[chan<- StateMsg]struct{})
	}

	m.listeners[ch] = struct{}{}

	return nil
}

// UnregisterMsgEvent removes a listener channel. Removing a channel that was
// never registered is a no-op.
func (m *Message) UnregisterMsgEvent(ch chan<- StateMsg) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.listeners, ch)

	return nil
}

// MsgEvents returns the registered listener channels.
func (m *Message) MsgEvents() []chan<- StateMsg {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chs := make([]chan<- StateMsg, 0, len(m.listeners))

	for ch := range m.listeners {
		chs = append(chs, ch)
	}

	return chs
}

// Notify delivers the state message to every registered listener. The listener
// set is snapshotted first, so a listener may re-register while being notified.
func (m *Message) Notify(msg StateMsg) {
	for _, ch := range m.MsgEvents() {
		ch <- msg
	}
}
