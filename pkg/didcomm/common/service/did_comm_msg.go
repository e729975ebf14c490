/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	jsonID             = "@id"
	jsonType           = "@type"
	jsonThread         = "~thread"
	jsonThreadID       = "thid"
	jsonParentThreadID = "pthid"
	jsonMetadata       = "_internal_metadata"
)

// DIDCommMsg describes the message interface.
type DIDCommMsg interface {
	ID() string
	SetID(id string)
	Type() string
	ThreadID() (string, error)
	ParentThreadID() string
	Clone() DIDCommMsgMap
	Metadata() map[string]interface{}
	Decode(v interface{}) error
}

// DIDCommMsgMap is a raw, map-backed representation of a DIDComm message.
// The message is immutable once it has been handed off for send or dispatch;
// Clone before mutating.
type DIDCommMsgMap map[string]interface{}

// ParseDIDCommMsgMap returns a DIDCommMsgMap from the given payload.
func ParseDIDCommMsgMap(payload []byte) (DIDCommMsgMap, error) {
	var msg DIDCommMsgMap

	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid payload data format: %w", err)
	}

	return msg, nil
}

// NewDIDCommMsgMap converts a message struct to a DIDCommMsgMap through its JSON
// representation.
func NewDIDCommMsgMap(v interface{}) DIDCommMsgMap {
	src, err := json.Marshal(v)
	if err != nil {
		return DIDCommMsgMap{}
	}

	msg, err := ParseDIDCommMsgMap(src)
	if err != nil {
		return DIDCommMsgMap{}
	}

	return msg
}

// ID returns the message `@id` or an empty string.
func (m DIDCommMsgMap) ID() string {
	val, ok := m[jsonID].(string)
	if !ok {
		return ""
	}

	return val
}

// SetID sets the message `@id`.
func (m DIDCommMsgMap) SetID(id string) {
	m[jsonID] = id
}

// Type returns the message `@type` or an empty string.
func (m DIDCommMsgMap) Type() string {
	val, ok := m[jsonType].(string)
	if !ok {
		return ""
	}

	return val
}

// ThreadID returns the thread this message belongs to: `~thread.thid` when the
// decorator is present, otherwise the message `@id` (a message without a thread
// decorator starts a new thread).
func (m DIDCommMsgMap) ThreadID() (string, error) {
	if m == nil {
		return "", ErrInvalidMessage
	}

	msgID := m.ID()

	thread, ok := m[jsonThread].(map[string]interface{})
	if ok {
		if thID, ok := thread[jsonThreadID].(string); ok && thID != "" {
			// a message with a thread decorator but without an id is not a valid message
			if msgID == "" {
				return "", ErrInvalidMessage
			}

			return thID, nil
		}
	}

	if msgID != "" {
		return msgID, nil
	}

	return "", ErrThreadIDNotFound
}

// ParentThreadID returns the `~thread.pthid` or an empty string.
func (m DIDCommMsgMap) ParentThreadID() string {
	thread, ok := m[jsonThread].(map[string]interface{})
	if !ok {
		return ""
	}

	if pthID, ok := thread[jsonParentThreadID].(string); ok {
		return pthID
	}

	return ""
}

// SetThread sets the `~thread` decorator. Empty arguments are omitted; if both are
// empty the decorator is left untouched.
func (m DIDCommMsgMap) SetThread(thID, pthID string) {
	if thID == "" && pthID == "" {
		return
	}

	thread := map[string]interface{}{}

	if thID != "" {
		thread[jsonThreadID] = thID
	}

	if pthID != "" {
		thread[jsonParentThreadID] = pthID
	}

	m[jsonThread] = thread
}

// Metadata returns message metadata. The metadata is internal bookkeeping and is
// never marshaled onto the wire.
func (m DIDCommMsgMap) Metadata() map[string]interface{} {
	md, ok := m[jsonMetadata].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}

	return md
}

// Clone returns a copy of the message. Nested values are shared.
func (m DIDCommMsgMap) Clone() DIDCommMsgMap {
	if m == nil {
		return nil
	}

	msg := DIDCommMsgMap{}

	for k, v := range m {
		msg[k] = v
	}

	return msg
}

// Decode decodes the message into the given struct, honoring json tags.
func (m DIDCommMsgMap) Decode(v interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			stringToBytesHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           v,
		TagName:          "json",
	})
	if err != nil {
		return err
	}

	return decoder.Decode(m)
}

// MarshalJSON marshals the message, stripping internal metadata.
func (m DIDCommMsgMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}

	raw := map[string]interface{}{}

	for k, v := range m {
		if k == jsonMetadata {
			continue
		}

		raw[k] = v
	}

	return json.Marshal(raw)
}

// UnmarshalJSON unmarshals the message.
func (m *DIDCommMsgMap) UnmarshalJSON(b []byte) error {
	raw := map[string]interface{}{}

	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*m = raw

	return nil
}

// stringToBytesHookFunc decodes base64 strings into []byte fields, matching the
// encoding/json representation of byte slices.
func stringToBytesHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]byte(nil)) {
			return data, nil
		}

		return base64.StdEncoding.DecodeString(data.(string))
	}
}
