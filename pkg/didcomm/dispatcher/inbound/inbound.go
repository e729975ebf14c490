/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package inbound turns raw transport deliveries into dispatched protocol
// messages. The receive path never propagates message-level failures back to
// the transport: a bad envelope is logged and surfaced on the event bus, and
// the receive loop keeps going.
package inbound

import (
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/dispatcher"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/event"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/decorator"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/problemreport"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/transport"
	"github.com/aether-id/didcomm-engine/pkg/store/connection"
)

var logger = log.New("didcomm-engine/dispatcher/inbound")

// Provider contains dependencies for the MessageReceiver.
type Provider interface {
	Packager() transport.Packager
	ServiceRegistry() *dispatcher.Registry
	InboundMessenger() service.InboundMessenger
	ConnectionLookup() connection.Lookup
	Sessions() *transport.SessionRegistry
	EventBus() *event.Bus
}

// MessageReceiver unpacks, correlates and dispatches inbound messages.
type MessageReceiver struct {
	packager    transport.Packager
	registry    *dispatcher.Registry
	messenger   service.InboundMessenger
	connections connection.Lookup
	sessions    *transport.SessionRegistry
	bus         *event.Bus
}

// NewMessageReceiver returns a new MessageReceiver.
func NewMessageReceiver(prov Provider) *MessageReceiver {
	return &MessageReceiver{
		packager:    prov.Packager(),
		registry:    prov.ServiceRegistry(),
		messenger:   prov.InboundMessenger(),
		connections: prov.ConnectionLookup(),
		sessions:    prov.Sessions(),
		bus:         prov.EventBus(),
	}
}

// Handler returns the callback inbound transports deliver into.
func (r *MessageReceiver) Handler() transport.InboundMessageHandler {
	return r.HandleInbound
}

// HandleInbound processes one raw inbound delivery. Envelope and dispatch
// failures are reported through the event bus and the log, never as an error to
// the transport.
func (r *MessageReceiver) HandleInbound(message []byte, session transport.Session) error {
	envelope, err := r.packager.UnpackMessage(message)
	if err != nil {
		logger.Warnf("inbound: discarding undecryptable envelope: %v", err)
		r.emitProcessed(nil, "", err)

		return nil
	}

	msg, err := service.ParseDIDCommMsgMap(envelope.Message)
	if err != nil {
		logger.Warnf("inbound: discarding malformed message: %v", err)
		r.emitProcessed(nil, "", err)

		return nil
	}

	connectionID := r.resolveConnection(envelope.FromKey)
	ctx := service.NewDIDCommContext("", "", connectionID, map[string]interface{}{})

	if session != nil && requestsReturnRoute(msg) {
		r.sessions.Register(session)
		ctx = service.WithSession(ctx, session.ID())
	}

	r.emitReceived(msg, connectionID)

	if err := r.messenger.HandleInbound(msg, ctx); err != nil {
		logger.Errorf("inbound: recording message %s: %v", msg.ID(), err)
		r.emitProcessed(msg, connectionID, err)

		return nil
	}

	r.dispatch(msg, connectionID, ctx)

	return nil
}

func (r *MessageReceiver) dispatch(msg service.DIDCommMsgMap, connectionID string, ctx service.DIDCommContext) {
	svc, err := r.registry.Resolve(msg.Type())
	if err != nil {
		if errors.Is(err, dispatcher.ErrNoHandlerFound) {
			r.replyUnsupported(msg, connectionID)
		}

		r.emitProcessed(msg, connectionID, err)

		return
	}

	if _, err := svc.HandleInbound(msg, ctx); err != nil {
		logger.Errorf("inbound: service %s handling %s: %v", svc.Name(), msg.ID(), err)
		r.emitProcessed(msg, connectionID, err)

		return
	}

	r.emitProcessed(msg, connectionID, nil)
}

// replyUnsupported answers an unroutable message with a problem report when the
// sender is a known connection. Messages from unknown parties are dropped.
func (r *MessageReceiver) replyUnsupported(msg service.DIDCommMsgMap, connectionID string) {
	if connectionID == "" {
		logger.Infof("inbound: dropping message of unsupported type %q from unknown sender", msg.Type())

		return
	}

	report := problemreport.New("", problemreport.CodeUnsupportedMessageType,
		fmt.Sprintf("unsupported message type %s", msg.Type()))

	if err := r.messenger.ReplyTo(msg.ID(), report); err != nil {
		logger.Errorf("inbound: sending problem report for %s: %v", msg.ID(), err)
	}
}

func (r *MessageReceiver) resolveConnection(theirKey string) string {
	if theirKey == "" {
		return ""
	}

	record, err := r.connections.GetConnectionRecordByTheirKey(theirKey)
	if err != nil {
		if !errors.Is(err, connection.ErrConnectionNotFound) {
			logger.Warnf("inbound: connection lookup by key: %v", err)
		}

		return ""
	}

	return record.ConnectionID
}

func (r *MessageReceiver) emitReceived(msg service.DIDCommMsgMap, connectionID string) {
	r.bus.Emit(event.Event{
		Topic:   event.TopicMessageReceived,
		Payload: messageProps(msg, connectionID, nil),
	})
}

func (r *MessageReceiver) emitProcessed(msg service.DIDCommMsgMap, connectionID string, err error) {
	r.bus.Emit(event.Event{
		Topic:   event.TopicMessageProcessed,
		Payload: messageProps(msg, connectionID, err),
	})
}

func messageProps(msg service.DIDCommMsgMap, connectionID string, err error) event.MessageProps {
	props := event.MessageProps{ConnectionID: connectionID, Err: err}

	if msg != nil {
		props.MessageID = msg.ID()
		props.MessageType = msg.Type()
		props.ThreadID, _ = msg.ThreadID()
	}

	return props
}

// requestsReturnRoute reports whether the sender asked to receive replies over
// the inbound transport session.
func requestsReturnRoute(msg service.DIDCommMsgMap) bool {
	transportDec, ok := msg["~transport"].(map[string]interface{})
	if !ok {
		return false
	}

	route, ok := transportDec["~return_route"].(string)
	if !ok {
		return false
	}

	return route == decorator.TransportReturnRouteAll || route == decorator.TransportReturnRouteThread
}
