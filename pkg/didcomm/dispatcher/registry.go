/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package dispatcher

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoHandlerFound is returned when no protocol service is registered for a
// message type. The receiver answers it with a problem report when the exchange
// allows one, otherwise the message is logged and dropped.
var ErrNoHandlerFound = errors.New("no message handlers found for the message type")

// Registry maps message-type URIs to protocol services. Lookup is exact-match on
// the full type URI, so protocol version negotiation is done by registering a
// different service set per active version rather than inside a handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ProtocolService
	services []ProtocolService
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ProtocolService)}
}

// Register registers the service for the given message types. Exactly one
// service is registered per type; re-registration replaces the previous one.
func (r *Registry) Register(svc ProtocolService, msgTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msgType := range msgTypes {
		if prev, ok := r.handlers[msgType]; ok && prev != svc {
			logger.Debugf("replacing handler for %s: %s -> %s", msgType, prev.Name(), svc.Name())
		}

		r.handlers[msgType] = svc
	}

	for _, registered := range r.services {
		if registered == svc {
			return
		}
	}

	r.services = append(r.services, svc)
}

// Resolve returns the service registered for the given message type.
func (r *Registry) Resolve(msgType string) (ProtocolService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.handlers[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandlerFound, msgType)
	}

	return svc, nil
}

// Services returns all registered services in registration order.
func (r *Registry) Services() []ProtocolService {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append(r.services[:0:0], r.services...)
}
