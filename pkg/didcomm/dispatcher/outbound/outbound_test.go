/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package outbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/transport"
	mockdidcomm "github.com/aether-id/didcomm-engine/pkg/mock/didcomm"
	"github.com/aether-id/didcomm-engine/pkg/store/connection"
)

type lookupStub struct {
	records map[string]*connection.Record
}

func (l *lookupStub) GetConnectionRecord(id string) (*connection.Record, error) {
	record, ok := l.records[id]
	if !ok {
		return nil, connection.ErrConnectionNotFound
	}

	return record, nil
}

func (l *lookupStub) GetConnectionRecordByTheirKey(string) (*connection.Record, error) {
	return nil, connection.ErrConnectionNotFound
}

func (l *lookupStub) GetConnectionRecordByThreadID(string) (*connection.Record, error) {
	return nil, connection.ErrConnectionNotFound
}

type providerStub struct {
	packager    transport.Packager
	transports  []transport.OutboundTransport
	sessions    *transport.SessionRegistry
	connections connection.Lookup
	returnRoute string
}

func (p *providerStub) Packager() transport.Packager                      { return p.packager }
func (p *providerStub) OutboundTransports() []transport.OutboundTransport { return p.transports }
func (p *providerStub) Sessions() *transport.SessionRegistry              { return p.sessions }
func (p *providerStub) ConnectionLookup() connection.Lookup               { return p.connections }
func (p *providerStub) TransportReturnRoute() string                      { return p.returnRoute }

func testRecord() *connection.Record {
	return &connection.Record{
		ConnectionID:          "conn-1",
		MyVerKey:              "my-key",
		TheirVerKey:           "their-key",
		TheirServiceEndpoints: []string{"http://first.example.com", "http://second.example.com"},
	}
}

func testMsg() service.DIDCommMsgMap {
	return service.DIDCommMsgMap{
		"@id":   "msg-1",
		"@type": "https://didcomm.org/issue-credential/2.0/offer-credential",
	}
}

func TestSendToConnectionReusesSession(t *testing.T) {
	sessions := transport.NewSessionRegistry()
	session := &mockdidcomm.MockSession{SessionID: "session-1"}
	sessions.Register(session)

	out := &mockdidcomm.MockOutboundTransport{}

	d := NewDispatcher(&providerStub{
		packager:    &mockdidcomm.MockPackager{},
		transports:  []transport.OutboundTransport{out},
		sessions:    sessions,
		connections: &lookupStub{records: map[string]*connection.Record{"conn-1": testRecord()}},
	})

	require.NoError(t, d.SendToConnection(testMsg(), "conn-1", "session-1"))

	// the reply went out on the inbound session, not a new outbound connection
	require.Len(t, session.Sent(), 1)
	require.Empty(t, out.Sent())

	// return routing is single use: the session is closed and removed
	require.False(t, session.IsOpen())
	require.Equal(t, 0, sessions.Len())
}

func TestSendToConnectionClosedSessionFallsBack(t *testing.T) {
	sessions := transport.NewSessionRegistry()
	session := &mockdidcomm.MockSession{SessionID: "session-1"}
	sessions.Register(session)
	require.NoError(t, session.Close())

	out := &mockdidcomm.MockOutboundTransport{}

	d := NewDispatcher(&providerStub{
		packager:    &mockdidcomm.MockPackager{},
		transports:  []transport.OutboundTransport{out},
		sessions:    sessions,
		connections: &lookupStub{records: map[string]*connection.Record{"conn-1": testRecord()}},
	}, WithRetry(1, time.Millisecond))

	require.NoError(t, d.SendToConnection(testMsg(), "conn-1", "session-1"))
	require.Len(t, out.Sent(), 1)
}

func TestSendEndpointFallback(t *testing.T) {
	var (
		mu        sync.Mutex
		endpoints []string
	)

	out := &mockdidcomm.MockOutboundTransport{
		SendFunc: func(_ []byte, dest *service.Destination) (string, error) {
			mu.Lock()
			endpoints = append(endpoints, dest.ServiceEndpoints[0])
			mu.Unlock()

			if dest.ServiceEndpoints[0] == "http://first.example.com" {
				return "", fmt.Errorf("%w: connection refused", transport.ErrSendFailed)
			}

			return "", nil
		},
	}

	d := NewDispatcher(&providerStub{
		packager:    &mockdidcomm.MockPackager{},
		transports:  []transport.OutboundTransport{out},
		sessions:    transport.NewSessionRegistry(),
		connections: &lookupStub{records: map[string]*connection.Record{"conn-1": testRecord()}},
	}, WithRetry(1, time.Millisecond))

	require.NoError(t, d.SendToConnection(testMsg(), "conn-1", ""))
	require.Equal(t, []string{"http://first.example.com", "http://second.example.com"}, endpoints)
}

func TestSendPerEndpointRetry(t *testing.T) {
	var attempts int

	out := &mockdidcomm.MockOutboundTransport{
		SendFunc: func([]byte, *service.Destination) (string, error) {
			attempts++
			if attempts < 2 {
				return "", fmt.Errorf("%w: transient", transport.ErrSendFailed)
			}

			return "", nil
		},
	}

	record := testRecord()
	record.TheirServiceEndpoints = []string{"http://only.example.com"}

	d := NewDispatcher(&providerStub{
		packager:    &mockdidcomm.MockPackager{},
		transports:  []transport.OutboundTransport{out},
		sessions:    transport.NewSessionRegistry(),
		connections: &lookupStub{records: map[string]*connection.Record{"conn-1": record}},
	}, WithRetry(2, time.Millisecond))

	require.NoError(t, d.SendToConnection(testMsg(), "conn-1", ""))
	require.Equal(t, 2, attempts)
}

type queueStub struct {
	mu     sync.Mutex
	queued []string
}

func (q *queueStub) Queue(connectionID string, _ service.DIDCommMsgMap) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queued = append(q.queued, connectionID)

	return nil
}

func TestSendUndeliverableGoesToQueue(t *testing.T) {
	out := &mockdidcomm.MockOutboundTransport{
		SendFunc: func([]byte, *service.Destination) (string, error) {
			return "", fmt.Errorf("%w: down", transport.ErrSendFailed)
		},
	}

	queue := &queueStub{}

	d := NewDispatcher(&providerStub{
		packager:    &mockdidcomm.MockPackager{},
		transports:  []transport.OutboundTransport{out},
		sessions:    transport.NewSessionRegistry(),
		connections: &lookupStub{records: map[string]*connection.Record{"conn-1": testRecord()}},
	}, WithRetry(1, time.Millisecond), WithDeliveryQueue(queue))

	err := d.SendToConnection(testMsg(), "conn-1", "")
	require.ErrorIs(t, err, ErrUndeliverable)
	require.Equal(t, []string{"conn-1"}, queue.queued)
}

func TestSendPacksPerEndpoint(t *testing.T) {
	var packs int

	packager := &mockdidcomm.MockPackager{
		PackFunc: func(envelope *transport.Envelope) ([]byte, error) {
			packs++
			return envelope.Message, nil
		},
	}

	out := &mockdidcomm.MockOutboundTransport{
		SendFunc: func([]byte, *service.Destination) (string, error) {
			return "", fmt.Errorf("%w: down", transport.ErrSendFailed)
		},
	}

	d := NewDispatcher(&providerStub{
		packager:    packager,
		transports:  []transport.OutboundTransport{out},
		sessions:    transport.NewSessionRegistry(),
		connections: &lookupStub{records: map[string]*connection.Record{"conn-1": testRecord()}},
	}, WithRetry(1, time.Millisecond))

	err := d.SendToConnection(testMsg(), "conn-1", "")
	require.ErrorIs(t, err, ErrUndeliverable)

	// encoding happens immediately before each endpoint attempt, not once up front
	require.Equal(t, 2, packs)
}

func TestSendInjectsReturnRouteDecorator(t *testing.T) {
	out := &mockdidcomm.MockOutboundTransport{}

	d := NewDispatcher(&providerStub{
		packager:    &mockdidcomm.MockPackager{},
		transports:  []transport.OutboundTransport{out},
		sessions:    transport.NewSessionRegistry(),
		connections: &lookupStub{records: map[string]*connection.Record{"conn-1": testRecord()}},
		returnRoute: "all",
	})

	require.NoError(t, d.SendToConnection(testMsg(), "conn-1", ""))

	sent := out.Sent()
	require.Len(t, sent, 1)

	decoded := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(sent[0], &decoded))
	require.Contains(t, decoded, "~transport")
}

func TestSendUnknownConnection(t *testing.T) {
	d := NewDispatcher(&providerStub{
		packager:    &mockdidcomm.MockPackager{},
		transports:  []transport.OutboundTransport{&mockdidcomm.MockOutboundTransport{}},
		sessions:    transport.NewSessionRegistry(),
		connections: &lookupStub{records: map[string]*connection.Record{}},
	})

	err := d.SendToConnection(testMsg(), "ghost", "")
	require.Error(t, err)
	require.True(t, errors.Is(err, connection.ErrConnectionNotFound))
}
