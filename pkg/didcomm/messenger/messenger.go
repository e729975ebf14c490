/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package messenger handles the threading of agent-to-agent communication:
// inbound message context is recorded so later replies can be correlated to the
// right thread, connection and, when available, the still-open inbound session.
package messenger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/dispatcher"
	"github.com/aether-id/didcomm-engine/pkg/store/connection"
)

// MessengerStore is the messenger store name.
const MessengerStore = "messenger_store"

var logger = log.New("didcomm-engine/messenger")

// record keeps the context of an inbound message, keyed by message id.
type record struct {
	ThreadID       string `json:"thread_id,omitempty"`
	ParentThreadID string `json:"parent_thread_id,omitempty"`
	ConnectionID   string `json:"connection_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// Provider contains dependencies for the Messenger.
type Provider interface {
	OutboundDispatcher() dispatcher.Outbound
	StorageProvider() storage.Provider
	ConnectionLookup() connection.Lookup
}

// Messenger is the Go implementation of service.InboundMessenger.
type Messenger struct {
	store       storage.Store
	dispatcher  dispatcher.Outbound
	connections connection.Lookup
}

// NewMessenger returns a new instance of the Messenger.
func NewMessenger(ctx Provider) (*Messenger, error) {
	store, err := ctx.StorageProvider().OpenStore(MessengerStore)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Messenger{
		store:       store,
		dispatcher:  ctx.OutboundDispatcher(),
		connections: ctx.ConnectionLookup(),
	}, nil
}

// HandleInbound records the context of an inbound message.
func (m *Messenger) HandleInbound(msg service.DIDCommMsgMap, ctx service.DIDCommContext) error {
	// an incoming message cannot be without id
	if msg.ID() == "" {
		return errors.New("message-id is absent and can't be processed")
	}

	thID, err := msg.ThreadID()
	if err != nil {
		return fmt.Errorf("threadID: %w", err)
	}

	logger.Debugf("messenger: recording inbound message %s on thread %s", msg.ID(), thID)

	return m.saveRecord(msg.ID(), record{
		ThreadID:       thID,
		ParentThreadID: msg.ParentThreadID(),
		ConnectionID:   ctx.ConnectionID(),
		SessionID:      ctx.SessionID(),
	})
}

// ReplyTo replies to the inbound message with the given msgID, keeping the
// conversation on the same thread. The inbound session, when still open, is
// preferred over a new outbound connection.
func (m *Messenger) ReplyTo(msgID string, msg service.DIDCommMsgMap) error {
	rec, err := m.getRecord(msgID)
	if err != nil {
		return fmt.Errorf("get record: %w", err)
	}

	msg = msg.Clone()
	fillIfMissing(msg)
	msg.SetThread(rec.ThreadID, rec.ParentThreadID)

	connectionID := rec.ConnectionID

	// a first-contact message carries no connection yet; by reply time the
	// protocol service has saved one under the same thread
	if connectionID == "" {
		record, errLookup := m.connections.GetConnectionRecordByThreadID(rec.ThreadID)
		if errLookup != nil {
			return fmt.Errorf("no connection for thread %s: %w", rec.ThreadID, errLookup)
		}

		connectionID = record.ConnectionID
	}

	return m.dispatcher.SendToConnection(msg, connectionID, rec.SessionID)
}

// Send sends the message to the given connection, starting a new thread.
func (m *Messenger) Send(msg service.DIDCommMsgMap, connectionID string) error {
	msg = msg.Clone()
	fillIfMissing(msg)

	return m.dispatcher.SendToConnection(msg, connectionID, "")
}

// ReplyToNested sends the message on a new thread nested under the given parent
// thread.
func (m *Messenger) ReplyToNested(pthID string, msg service.DIDCommMsgMap, connectionID string) error {
	msg = msg.Clone()
	fillIfMissing(msg)
	msg.SetThread("", pthID)

	return m.dispatcher.SendToConnection(msg, connectionID, "")
}

func fillIfMissing(msg service.DIDCommMsgMap) {
	if msg.ID() == "" {
		msg.SetID(uuid.New().String())
	}
}

func (m *Messenger) saveRecord(msgID string, rec record) error {
	src, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	return m.store.Put(msgID, src)
}

func (m *Messenger) getRecord(msgID string) (*record, error) {
	src, err := m.store.Get(msgID)
	if err != nil {
		return nil, fmt.Errorf("store get: %w", err)
	}

	rec := &record{}
	if err := json.Unmarshal(src, rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}

	return rec, nil
}
