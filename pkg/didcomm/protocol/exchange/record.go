/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
)

const (
	// StoreName is the name of the protocol exchange store, shared by all
	// protocol services.
	StoreName = "didcomm_exchange"

	tagProtocol     = "protocol"
	tagThreadID     = "thid"
	tagConnectionID = "connID"
	tagStateName    = "state"
	tagRole         = "role"
)

// ErrRecordNotFound is returned when no exchange record matches the query.
var ErrRecordNotFound = errors.New("exchange record not found")

// Record is the persisted view of one protocol thread with one peer. There is
// at most one record per (protocol, thread id, connection id).
type Record struct {
	ProtocolName    string `json:"protocol_name"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Role            string `json:"role,omitempty"`
	StateName       string `json:"state_name"`
	ThreadID        string `json:"thread_id"`
	ParentThreadID  string `json:"parent_thread_id,omitempty"`
	ConnectionID    string `json:"connection_id"`

	// MessageRefs maps each applied event to the id of the message that drove
	// it. Re-delivery of an already applied message is detected here.
	MessageRefs map[string]string `json:"message_refs,omitempty"`

	// LastMsg is the last message applied on the thread. After a restart it
	// lets the service resend a reply that never left, or re-evaluate an
	// inbound message that was never answered.
	LastMsg service.DIDCommMsgMap `json:"last_msg,omitempty"`

	// LastOutboundID and LastOutboundState mark the last message this side
	// sent, for crash recovery and duplicate-send detection.
	LastOutboundID    string `json:"last_outbound_id,omitempty"`
	LastOutboundState string `json:"last_outbound_state,omitempty"`

	// ProblemCode and ProblemComment are set when the exchange was abandoned.
	ProblemCode    string `json:"problem_code,omitempty"`
	ProblemComment string `json:"problem_comment,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.MessageRefs = make(map[string]string, len(r.MessageRefs))

	for k, v := range r.MessageRefs {
		clone.MessageRefs[k] = v
	}

	clone.LastMsg = r.LastMsg.Clone()

	return &clone
}

// Store persists exchange records in the agent's storage provider.
type Store struct {
	store storage.Store
}

// OpenStore opens the shared exchange store.
func OpenStore(prov storage.Provider) (*Store, error) {
	store, err := prov.OpenStore(StoreName)
	if err != nil {
		return nil, fmt.Errorf("open exchange store: %w", err)
	}

	err = prov.SetStoreConfig(StoreName, storage.StoreConfiguration{
		TagNames: []string{tagProtocol, tagThreadID, tagConnectionID, tagStateName, tagRole},
	})
	if err != nil {
		return nil, fmt.Errorf("set exchange store config: %w", err)
	}

	return &Store{store: store}, nil
}

func recordKey(protocol, threadID, connectionID string) string {
	return fmt.Sprintf("exch_%s_%s_%s", protocol, threadID, connectionID)
}

// Save persists the record under its (protocol, thread, connection) key.
func (s *Store) Save(record *Record) error {
	if record.ProtocolName == "" || record.ThreadID == "" {
		return errors.New("save exchange record: protocol name and thread id are required")
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	record.UpdatedAt = time.Now().UTC()

	src, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal exchange record: %w", err)
	}

	tags := []storage.Tag{
		{Name: tagProtocol, Value: record.ProtocolName},
		{Name: tagThreadID, Value: record.ThreadID},
		{Name: tagStateName, Value: record.StateName},
		{Name: tagRole, Value: record.Role},
	}

	if record.ConnectionID != "" {
		tags = append(tags, storage.Tag{Name: tagConnectionID, Value: record.ConnectionID})
	}

	return s.store.Put(recordKey(record.ProtocolName, record.ThreadID, record.ConnectionID), src, tags...)
}

// Get returns the record for the given protocol thread with the given peer.
func (s *Store) Get(protocol, threadID, connectionID string) (*Record, error) {
	src, err := s.store.Get(recordKey(protocol, threadID, connectionID))
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: protocol %s thread %s", ErrRecordNotFound, protocol, threadID)
	}

	if err != nil {
		return nil, fmt.Errorf("get exchange record: %w", err)
	}

	return unmarshalRecord(src)
}

// QueryByProtocol returns all records of the given protocol.
func (s *Store) QueryByProtocol(protocol string) ([]*Record, error) {
	return s.query(tagProtocol + ":" + protocol)
}

// QueryByState returns all records currently in the given state.
func (s *Store) QueryByState(state string) ([]*Record, error) {
	return s.query(tagStateName + ":" + state)
}

func (s *Store) query(expression string) ([]*Record, error) {
	it, err := s.store.Query(expression)
	if err != nil {
		return nil, fmt.Errorf("query exchange records: %w", err)
	}

	defer func() {
		if errClose := it.Close(); errClose != nil {
			logger.Warnf("closing exchange query iterator: %v", errClose)
		}
	}()

	var records []*Record

	for {
		more, errNext := it.Next()
		if errNext != nil {
			return nil, fmt.Errorf("iterate exchange records: %w", errNext)
		}

		if !more {
			return records, nil
		}

		src, errValue := it.Value()
		if errValue != nil {
			return nil, fmt.Errorf("read exchange record: %w", errValue)
		}

		record, errUnmarshal := unmarshalRecord(src)
		if errUnmarshal != nil {
			return nil, errUnmarshal
		}

		records = append(records, record)
	}
}

func unmarshalRecord(src []byte) (*Record, error) {
	record := &Record{}

	if err := json.Unmarshal(src, record); err != nil {
		return nil, fmt.Errorf("unmarshal exchange record: %w", err)
	}

	return record, nil
}
