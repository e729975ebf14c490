/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"errors"
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"
)

var logger = log.New("didcomm-engine/transport")

// ErrSessionClosed is returned when sending on a session whose underlying
// channel is no longer open.
var ErrSessionClosed = errors.New("transport session closed")

// Session is an open bidirectional channel (e.g. a still-open HTTP response or a
// websocket) registered by an inbound transport so that a reply can reuse the
// inbound channel instead of opening a new outbound connection.
type Session interface {
	// ID returns the unique session id.
	ID() string

	// Type returns the transport type of the session, e.g. "ws" or "http".
	Type() string

	// IsOpen reports whether the underlying channel is still open.
	IsOpen() bool

	// Send writes packed data on the session. Returns ErrSessionClosed when the
	// channel has been closed.
	Send(data []byte) error

	// Close closes the underlying channel. Closing an already-closed session is a
	// no-op.
	Close() error
}

// SessionRegistry tracks open sessions keyed by session id. At most one session is
// registered per id. Registration and removal are atomic with respect to
// concurrent Close calls from the transport; removal is idempotent.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewSessionRegistry returns an empty session registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]Session)}
}

// Register adds the session under its id, replacing any previous session with the
// same id (the previous one is closed).
func (r *SessionRegistry) Register(session Session) {
	if session == nil {
		return
	}

	r.mu.Lock()
	prev, ok := r.sessions[session.ID()]
	r.sessions[session.ID()] = session
	r.mu.Unlock()

	if ok && prev != session {
		if err := prev.Close(); err != nil {
			logger.Warnf("closing replaced session %s: %v", prev.ID(), err)
		}
	}
}

// Get returns the open session with the given id, or nil when there is none or it
// is no longer open.
func (r *SessionRegistry) Get(id string) Session {
	if id == "" {
		return nil
	}

	r.mu.RLock()
	session := r.sessions[id]
	r.mu.RUnlock()

	if session == nil || !session.IsOpen() {
		return nil
	}

	return session
}

// Remove removes the session with the given id. Removing an unknown or
// already-removed id is a no-op.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// CloseAndRemove closes the session with the given id, if any, and removes it.
func (r *SessionRegistry) CloseAndRemove(id string) {
	r.mu.Lock()
	session := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			logger.Warnf("closing session %s: %v", id, err)
		}
	}
}

// CloseAll closes and removes every registered session.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	for id, session := range sessions {
		if err := session.Close(); err != nil {
			logger.Warnf("closing session %s: %v", id, err)
		}
	}
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
