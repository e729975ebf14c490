/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package outbound delivers messages to other agents: session reuse first, then
// the connection's known service endpoints in preference order.
package outbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/decorator"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/transport"
	"github.com/aether-id/didcomm-engine/pkg/store/connection"
)

var logger = log.New("didcomm-engine/dispatcher/outbound")

// ErrUndeliverable is returned when every known endpoint of the destination
// failed. The message is not retried indefinitely by this component; callers may
// hand it to a mediator for store-and-forward pickup.
var ErrUndeliverable = errors.New("message undeliverable on all known endpoints")

const (
	defaultAttemptsPerEndpoint = 2
	defaultAttemptBackoff      = 500 * time.Millisecond
	defaultConnectionCacheSize = 64
	connectionCacheTTL         = 30 * time.Second
)

// DeliveryQueue receives messages that could not be delivered directly, for
// later pickup through a mediator.
type DeliveryQueue interface {
	Queue(connectionID string, msg service.DIDCommMsgMap) error
}

// Provider contains dependencies for the outbound Dispatcher.
type Provider interface {
	Packager() transport.Packager
	OutboundTransports() []transport.OutboundTransport
	Sessions() *transport.SessionRegistry
	ConnectionLookup() connection.Lookup
	TransportReturnRoute() string
}

// Dispatcher dispatches messages to their destination.
type Dispatcher struct {
	packager             transport.Packager
	transports           []transport.OutboundTransport
	sessions             *transport.SessionRegistry
	connections          connection.Lookup
	transportReturnRoute string
	connectionCache      gcache.Cache
	attemptsPerEndpoint  uint64
	attemptBackoff       time.Duration
	queue                DeliveryQueue
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithDeliveryQueue sets the queue undeliverable messages are offered to.
func WithDeliveryQueue(q DeliveryQueue) Option {
	return func(d *Dispatcher) {
		d.queue = q
	}
}

// WithRetry sets the per-endpoint attempt count and backoff interval. Overall
// delivery across all endpoints is not time-bounded here; that policy belongs to
// the caller.
func WithRetry(attemptsPerEndpoint uint64, interval time.Duration) Option {
	return func(d *Dispatcher) {
		d.attemptsPerEndpoint = attemptsPerEndpoint
		d.attemptBackoff = interval
	}
}

// NewDispatcher returns a new outbound Dispatcher.
func NewDispatcher(prov Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		packager:             prov.Packager(),
		transports:           prov.OutboundTransports(),
		sessions:             prov.Sessions(),
		connections:          prov.ConnectionLookup(),
		transportReturnRoute: prov.TransportReturnRoute(),
		attemptsPerEndpoint:  defaultAttemptsPerEndpoint,
		attemptBackoff:       defaultAttemptBackoff,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.attemptsPerEndpoint == 0 {
		d.attemptsPerEndpoint = 1
	}

	d.connectionCache = gcache.New(defaultConnectionCacheSize).
		LRU().
		Expiration(connectionCacheTTL).
		LoaderFunc(func(key interface{}) (interface{}, error) {
			return d.connections.GetConnectionRecord(key.(string))
		}).
		Build()

	return d
}

// SendToConnection packs and delivers the message to the given connection. When
// sessionID names a still-open inbound session, the reply reuses it and the
// session is closed after the single send (return routing); otherwise the
// connection's endpoints are tried in preference order.
func (d *Dispatcher) SendToConnection(msg service.DIDCommMsgMap, connectionID, sessionID string) error {
	record, err := d.connectionRecord(connectionID)
	if err != nil {
		return fmt.Errorf("outbound: resolve connection %s: %w", connectionID, err)
	}

	if sessionID != "" {
		if session := d.sessions.Get(sessionID); session != nil {
			err = d.sendOnSession(msg, record, session)
			if err == nil {
				return nil
			}

			logger.Debugf("outbound: session %s send failed, falling back to endpoints: %v", sessionID, err)
		}
	}

	err = d.Send(msg, record.MyVerKey, record.Destination())
	if errors.Is(err, ErrUndeliverable) && d.queue != nil {
		if errQueue := d.queue.Queue(connectionID, msg); errQueue != nil {
			logger.Errorf("outbound: queueing undeliverable message for %s: %v", connectionID, errQueue)
		} else {
			logger.Infof("outbound: message for connection %s queued for mediator pickup", connectionID)
		}
	}

	return err
}

// Send packs and delivers the message to an explicit destination, trying each
// service endpoint in preference order. Packing happens immediately before every
// transport call so the most current key state is used.
func (d *Dispatcher) Send(msg service.DIDCommMsgMap, senderKey string, dest *service.Destination) error {
	if err := dest.Validate(); err != nil {
		return fmt.Errorf("outbound: %w", err)
	}

	plaintext, err := d.marshalWithReturnRoute(msg)
	if err != nil {
		return fmt.Errorf("outbound: %w", err)
	}

	var lastErr error

	for _, endpoint := range dest.ServiceEndpoints {
		out := d.transportFor(endpoint)
		if out == nil {
			logger.Debugf("outbound: no transport accepts endpoint %s", endpoint)
			continue
		}

		// pack per attempt, not earlier: key state may have changed since the
		// previous endpoint failed
		packed, errPack := d.packager.PackMessage(&transport.Envelope{
			Message: plaintext,
			FromKey: senderKey,
			ToKeys:  dest.RecipientKeys,
		})
		if errPack != nil {
			return fmt.Errorf("outbound: pack: %w", errPack)
		}

		endpointDest := &service.Destination{
			RecipientKeys:        dest.RecipientKeys,
			ServiceEndpoints:     []string{endpoint},
			RoutingKeys:          dest.RoutingKeys,
			TransportReturnRoute: d.transportReturnRoute,
		}

		lastErr = backoff.Retry(func() error {
			_, errSend := out.Send(packed, endpointDest)
			return errSend
		}, backoff.WithMaxRetries(backoff.NewConstantBackOff(d.attemptBackoff), d.attemptsPerEndpoint-1))

		if lastErr == nil {
			return nil
		}

		logger.Debugf("outbound: endpoint %s failed: %v", endpoint, lastErr)
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrUndeliverable, lastErr)
	}

	return fmt.Errorf("%w: no transport found for destination", ErrUndeliverable)
}

func (d *Dispatcher) sendOnSession(msg service.DIDCommMsgMap, record *connection.Record,
	session transport.Session) error {
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	packed, err := d.packager.PackMessage(&transport.Envelope{
		Message: plaintext,
		FromKey: record.MyVerKey,
		ToKeys:  record.Destination().RecipientKeys,
	})
	if err != nil {
		return fmt.Errorf("pack: %w", err)
	}

	if err := session.Send(packed); err != nil {
		return fmt.Errorf("session send: %w", err)
	}

	// return routing is single use: one reply per inbound delivery
	d.sessions.CloseAndRemove(session.ID())

	return nil
}

// marshalWithReturnRoute injects the configured transport return-route decorator
// before marshaling, so the receiver knows it may reply on the same channel.
func (d *Dispatcher) marshalWithReturnRoute(msg service.DIDCommMsgMap) ([]byte, error) {
	if d.transportReturnRoute != decorator.TransportReturnRouteAll &&
		d.transportReturnRoute != decorator.TransportReturnRouteThread {
		return json.Marshal(msg)
	}

	withRoute := msg.Clone()
	withRoute["~transport"] = map[string]interface{}{
		"~return_route": d.transportReturnRoute,
	}

	return json.Marshal(withRoute)
}

func (d *Dispatcher) transportFor(endpoint string) transport.OutboundTransport {
	for _, out := range d.transports {
		if out.Accept(endpoint) {
			return out
		}
	}

	return nil
}

func (d *Dispatcher) connectionRecord(connectionID string) (*connection.Record, error) {
	cached, err := d.connectionCache.Get(connectionID)
	if err != nil {
		return nil, err
	}

	record, ok := cached.(*connection.Record)
	if !ok {
		return nil, fmt.Errorf("unexpected cache entry type %T", cached)
	}

	return record, nil
}
