/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package connection stores the connection records the messaging core resolves
// inbound senders and outbound destinations against. Record lifecycle (creation
// during DID exchange, deletion) is driven from outside the dispatch core.
package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
)

const (
	// StoreName is the name of the connection store.
	StoreName = "didcomm_connections"

	keyPrefix = "conn_"

	tagTheirKey = "theirKey"
	tagState    = "state"
	tagThreadID = "thid"
)

// ErrConnectionNotFound is returned when no connection record matches the query.
var ErrConnectionNotFound = errors.New("connection record not found")

// Record contains the data required to exchange messages with another agent.
type Record struct {
	ConnectionID          string    `json:"connection_id"`
	State                 string    `json:"state,omitempty"`
	ThreadID              string    `json:"thread_id,omitempty"`
	ParentThreadID        string    `json:"parent_thread_id,omitempty"`
	MyDID                 string    `json:"my_did,omitempty"`
	TheirDID              string    `json:"their_did,omitempty"`
	MyVerKey              string    `json:"my_ver_key,omitempty"`
	TheirVerKey           string    `json:"their_ver_key,omitempty"`
	RecipientKeys         []string  `json:"recipient_keys,omitempty"`
	TheirServiceEndpoints []string  `json:"their_service_endpoints,omitempty"`
	RoutingKeys           []string  `json:"routing_keys,omitempty"`
	TransportReturnRoute  string    `json:"transport_return_route,omitempty"`
	CreatedAt             time.Time `json:"created_at,omitempty"`
	UpdatedAt             time.Time `json:"updated_at,omitempty"`
}

// Destination builds the outbound destination for this connection. Endpoints are
// in preference order.
func (r *Record) Destination() *service.Destination {
	keys := r.RecipientKeys
	if len(keys) == 0 && r.TheirVerKey != "" {
		keys = []string{r.TheirVerKey}
	}

	return &service.Destination{
		RecipientKeys:        keys,
		ServiceEndpoints:     append([]string{}, r.TheirServiceEndpoints...),
		RoutingKeys:          append([]string{}, r.RoutingKeys...),
		TransportReturnRoute: r.TransportReturnRoute,
	}
}

// Lookup finds connection records.
type Lookup interface {
	GetConnectionRecord(connectionID string) (*Record, error)
	GetConnectionRecordByTheirKey(theirKey string) (*Record, error)
	GetConnectionRecordByThreadID(threadID string) (*Record, error)
}

// Provider contains dependencies for the connection Recorder.
type Provider interface {
	StorageProvider() storage.Provider
}

// Recorder persists and finds connection records.
type Recorder struct {
	store storage.Store
}

// NewRecorder returns a new connection Recorder.
func NewRecorder(prov Provider) (*Recorder, error) {
	store, err := prov.StorageProvider().OpenStore(StoreName)
	if err != nil {
		return nil, fmt.Errorf("open connection store: %w", err)
	}

	err = prov.StorageProvider().SetStoreConfig(StoreName,
		storage.StoreConfiguration{TagNames: []string{tagTheirKey, tagState, tagThreadID}})
	if err != nil {
		return nil, fmt.Errorf("set connection store config: %w", err)
	}

	return &Recorder{store: store}, nil
}

// SaveConnectionRecord saves the given connection record.
func (r *Recorder) SaveConnectionRecord(record *Record) error {
	if record.ConnectionID == "" {
		return errors.New("save connection record: missing connection id")
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	record.UpdatedAt = time.Now().UTC()

	src, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal connection record: %w", err)
	}

	tags := []storage.Tag{
		{Name: tagState, Value: record.State},
	}

	if record.TheirVerKey != "" {
		tags = append(tags, storage.Tag{Name: tagTheirKey, Value: record.TheirVerKey})
	}

	if record.ThreadID != "" {
		tags = append(tags, storage.Tag{Name: tagThreadID, Value: record.ThreadID})
	}

	return r.store.Put(keyPrefix+record.ConnectionID, src, tags...)
}

// GetConnectionRecord returns the connection record with the given id.
func (r *Recorder) GetConnectionRecord(connectionID string) (*Record, error) {
	src, err := r.store.Get(keyPrefix + connectionID)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: id %s", ErrConnectionNotFound, connectionID)
	}

	if err != nil {
		return nil, fmt.Errorf("get connection record: %w", err)
	}

	return unmarshalRecord(src)
}

// GetConnectionRecordByTheirKey returns the connection record whose peer uses the
// given base58-encoded verification key.
func (r *Recorder) GetConnectionRecordByTheirKey(theirKey string) (*Record, error) {
	it, err := r.store.Query(tagTheirKey + ":" + theirKey)
	if err != nil {
		return nil, fmt.Errorf("query connection records: %w", err)
	}

	defer func() {
		if errClose := it.Close(); errClose != nil {
			logger.Warnf("closing connection query iterator: %v", errClose)
		}
	}()

	more, err := it.Next()
	if err != nil {
		return nil, fmt.Errorf("iterate connection records: %w", err)
	}

	if !more {
		return nil, fmt.Errorf("%w: their key %s", ErrConnectionNotFound, theirKey)
	}

	src, err := it.Value()
	if err != nil {
		return nil, fmt.Errorf("read connection record: %w", err)
	}

	return unmarshalRecord(src)
}

// GetConnectionRecordByThreadID returns the connection record established (or
// being established) on the given exchange thread.
func (r *Recorder) GetConnectionRecordByThreadID(threadID string) (*Record, error) {
	it, err := r.store.Query(tagThreadID + ":" + threadID)
	if err != nil {
		return nil, fmt.Errorf("query connection records: %w", err)
	}

	defer func() {
		if errClose := it.Close(); errClose != nil {
			logger.Warnf("closing connection query iterator: %v", errClose)
		}
	}()

	more, err := it.Next()
	if err != nil {
		return nil, fmt.Errorf("iterate connection records: %w", err)
	}

	if !more {
		return nil, fmt.Errorf("%w: thread %s", ErrConnectionNotFound, threadID)
	}

	src, err := it.Value()
	if err != nil {
		return nil, fmt.Errorf("read connection record: %w", err)
	}

	return unmarshalRecord(src)
}

func unmarshalRecord(src []byte) (*Record, error) {
	record := &Record{}

	if err := json.Unmarshal(src, record); err != nil {
		return nil, fmt.Errorf("unmarshal connection record: %w", err)
	}

	return record, nil
}
