/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package inbound

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/dispatcher"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/event"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/transport"
	mockdidcomm "github.com/aether-id/didcomm-engine/pkg/mock/didcomm"
	"github.com/aether-id/didcomm-engine/pkg/store/connection"
)

type messengerStub struct {
	inbound    []service.DIDCommMsgMap
	inboundErr error
	replies    []service.DIDCommMsgMap
}

func (m *messengerStub) HandleInbound(msg service.DIDCommMsgMap, _ service.DIDCommContext) error {
	m.inbound = append(m.inbound, msg)

	return m.inboundErr
}

func (m *messengerStub) ReplyTo(_ string, msg service.DIDCommMsgMap) error {
	m.replies = append(m.replies, msg)

	return nil
}

func (m *messengerStub) Send(service.DIDCommMsgMap, string) error { return nil }

func (m *messengerStub) ReplyToNested(string, service.DIDCommMsgMap, string) error { return nil }

type lookupStub struct {
	byKey map[string]*connection.Record
}

func (l *lookupStub) GetConnectionRecord(string) (*connection.Record, error) {
	return nil, connection.ErrConnectionNotFound
}

func (l *lookupStub) GetConnectionRecordByTheirKey(key string) (*connection.Record, error) {
	record, ok := l.byKey[key]
	if !ok {
		return nil, connection.ErrConnectionNotFound
	}

	return record, nil
}

func (l *lookupStub) GetConnectionRecordByThreadID(string) (*connection.Record, error) {
	return nil, connection.ErrConnectionNotFound
}

type handlerStub struct {
	name     string
	handled  []service.DIDCommMsgMap
	contexts []service.DIDCommContext
	err      error
}

func (h *handlerStub) HandleInbound(msg service.DIDCommMsgMap, ctx service.DIDCommContext) (string, error) {
	h.handled = append(h.handled, msg)
	h.contexts = append(h.contexts, ctx)

	return "", h.err
}

func (h *handlerStub) Accept(string) bool { return true }

func (h *handlerStub) Name() string { return h.name }

type providerStub struct {
	packager    transport.Packager
	registry    *dispatcher.Registry
	messenger   service.InboundMessenger
	connections connection.Lookup
	sessions    *transport.SessionRegistry
	bus         *event.Bus
}

func (p *providerStub) Packager() transport.Packager         { return p.packager }
func (p *providerStub) ServiceRegistry() *dispatcher.Registry { return p.registry }

func (p *providerStub) InboundMessenger() service.InboundMessenger { return p.messenger }
func (p *providerStub) ConnectionLookup() connection.Lookup  { return p.connections }
func (p *providerStub) Sessions() *transport.SessionRegistry { return p.sessions }
func (p *providerStub) EventBus() *event.Bus                 { return p.bus }

const offerType = "https://didcomm.org/issue-credential/2.0/offer-credential"

func rawMsg(t *testing.T, msg service.DIDCommMsgMap) []byte {
	t.Helper()

	src, err := json.Marshal(msg)
	require.NoError(t, err)

	return src
}

func newReceiver(t *testing.T, prov *providerStub) *MessageReceiver {
	t.Helper()

	if prov.packager == nil {
		prov.packager = &mockdidcomm.MockPackager{}
	}

	if prov.registry == nil {
		prov.registry = dispatcher.NewRegistry()
	}

	if prov.messenger == nil {
		prov.messenger = &messengerStub{}
	}

	if prov.connections == nil {
		prov.connections = &lookupStub{}
	}

	if prov.sessions == nil {
		prov.sessions = transport.NewSessionRegistry()
	}

	if prov.bus == nil {
		prov.bus = event.NewBus()
	}

	return NewMessageReceiver(prov)
}

func TestHandleInboundDispatchesToService(t *testing.T) {
	svc := &handlerStub{name: "issue-credential"}
	registry := dispatcher.NewRegistry()
	registry.Register(svc, offerType)

	bus := event.NewBus()

	var processed []event.MessageProps

	bus.Subscribe(event.TopicMessageProcessed, func(e event.Event) {
		processed = append(processed, e.Payload.(event.MessageProps))
	})

	lookup := &lookupStub{byKey: map[string]*connection.Record{
		"their-key": {ConnectionID: "conn-1"},
	}}

	r := newReceiver(t, &providerStub{registry: registry, connections: lookup, bus: bus})

	msg := service.DIDCommMsgMap{"@id": "msg-1", "@type": offerType}

	packager := &mockdidcomm.MockPackager{
		UnpackFunc: func(encMessage []byte) (*transport.Envelope, error) {
			return &transport.Envelope{Message: encMessage, FromKey: "their-key"}, nil
		},
	}
	r.packager = packager

	require.NoError(t, r.HandleInbound(rawMsg(t, msg), nil))

	require.Len(t, svc.handled, 1)
	require.Equal(t, "msg-1", svc.handled[0].ID())
	require.Equal(t, "conn-1", svc.contexts[0].ConnectionID())

	require.Len(t, processed, 1)
	require.NoError(t, processed[0].Err)
	require.Equal(t, "conn-1", processed[0].ConnectionID)
}

func TestHandleInboundBadEnvelopeNeverFails(t *testing.T) {
	bus := event.NewBus()

	var processed []event.MessageProps

	bus.Subscribe(event.TopicMessageProcessed, func(e event.Event) {
		processed = append(processed, e.Payload.(event.MessageProps))
	})

	unpackErr := errors.New("no matching key")

	r := newReceiver(t, &providerStub{
		packager: &mockdidcomm.MockPackager{
			UnpackFunc: func([]byte) (*transport.Envelope, error) {
				return nil, unpackErr
			},
		},
		bus: bus,
	})

	// the receive loop must stay alive no matter what arrives
	require.NoError(t, r.HandleInbound([]byte("garbage"), nil))

	require.Len(t, processed, 1)
	require.ErrorIs(t, processed[0].Err, unpackErr)
}

func TestHandleInboundMalformedMessage(t *testing.T) {
	bus := event.NewBus()

	var processed []event.MessageProps

	bus.Subscribe(event.TopicMessageProcessed, func(e event.Event) {
		processed = append(processed, e.Payload.(event.MessageProps))
	})

	r := newReceiver(t, &providerStub{bus: bus})

	require.NoError(t, r.HandleInbound([]byte("not json"), nil))

	require.Len(t, processed, 1)
	require.Error(t, processed[0].Err)
}

func TestHandleInboundUnsupportedTypeKnownSender(t *testing.T) {
	messenger := &messengerStub{}
	lookup := &lookupStub{byKey: map[string]*connection.Record{
		"their-key": {ConnectionID: "conn-1"},
	}}

	r := newReceiver(t, &providerStub{
		packager: &mockdidcomm.MockPackager{
			UnpackFunc: func(encMessage []byte) (*transport.Envelope, error) {
				return &transport.Envelope{Message: encMessage, FromKey: "their-key"}, nil
			},
		},
		messenger:   messenger,
		connections: lookup,
	})

	msg := service.DIDCommMsgMap{"@id": "msg-1", "@type": "https://didcomm.org/unknown/1.0/nope"}

	require.NoError(t, r.HandleInbound(rawMsg(t, msg), nil))

	// the known sender gets told instead of being silently ignored
	require.Len(t, messenger.replies, 1)
	require.Equal(t,
		"https://didcomm.org/report-problem/1.0/problem-report",
		messenger.replies[0].Type())
}

func TestHandleInboundUnsupportedTypeUnknownSenderDropped(t *testing.T) {
	messenger := &messengerStub{}

	r := newReceiver(t, &providerStub{messenger: messenger})

	msg := service.DIDCommMsgMap{"@id": "msg-1", "@type": "https://didcomm.org/unknown/1.0/nope"}

	require.NoError(t, r.HandleInbound(rawMsg(t, msg), nil))
	require.Empty(t, messenger.replies)
}

func TestHandleInboundRegistersReturnRouteSession(t *testing.T) {
	svc := &handlerStub{name: "issue-credential"}
	registry := dispatcher.NewRegistry()
	registry.Register(svc, offerType)

	sessions := transport.NewSessionRegistry()

	r := newReceiver(t, &providerStub{registry: registry, sessions: sessions})

	msg := service.DIDCommMsgMap{
		"@id":        "msg-1",
		"@type":      offerType,
		"~transport": map[string]interface{}{"~return_route": "all"},
	}

	session := &mockdidcomm.MockSession{SessionID: "session-1"}

	require.NoError(t, r.HandleInbound(rawMsg(t, msg), session))

	require.Equal(t, 1, sessions.Len())
	require.Equal(t, "session-1", svc.contexts[0].SessionID())
}

func TestHandleInboundNoReturnRouteSessionNotRegistered(t *testing.T) {
	svc := &handlerStub{name: "issue-credential"}
	registry := dispatcher.NewRegistry()
	registry.Register(svc, offerType)

	sessions := transport.NewSessionRegistry()

	r := newReceiver(t, &providerStub{registry: registry, sessions: sessions})

	msg := service.DIDCommMsgMap{"@id": "msg-1", "@type": offerType}

	require.NoError(t, r.HandleInbound(rawMsg(t, msg), &mockdidcomm.MockSession{SessionID: "session-1"}))

	require.Equal(t, 0, sessions.Len())
	require.Empty(t, svc.contexts[0].SessionID())
}

func TestHandleInboundServiceErrorReported(t *testing.T) {
	handleErr := errors.New("state machine rejected it")

	svc := &handlerStub{name: "issue-credential", err: handleErr}
	registry := dispatcher.NewRegistry()
	registry.Register(svc, offerType)

	bus := event.NewBus()

	var processed []event.MessageProps

	bus.Subscribe(event.TopicMessageProcessed, func(e event.Event) {
		processed = append(processed, e.Payload.(event.MessageProps))
	})

	r := newReceiver(t, &providerStub{registry: registry, bus: bus})

	msg := service.DIDCommMsgMap{"@id": "msg-1", "@type": offerType}

	require.NoError(t, r.HandleInbound(rawMsg(t, msg), nil))

	require.Len(t, processed, 1)
	require.ErrorIs(t, processed[0].Err, handleErr)
}
