/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDIDCommMsgMap_ID(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		msg      DIDCommMsgMap
	}{
		{
			name: "Empty (nil msg)",
		},
		{
			name: "Empty",
			msg:  DIDCommMsgMap{},
		},
		{
			name: "Bad type ID",
			msg:  DIDCommMsgMap{jsonID: map[int]int{}},
		},
		{
			name:     "Success",
			msg:      DIDCommMsgMap{jsonID: "ID"},
			expected: "ID",
		},
	}

	for i := range tests {
		require.Equal(t, tests[i].expected, tests[i].msg.ID())
	}
}

func TestDIDCommMsgMap_Type(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		msg      DIDCommMsgMap
	}{
		{
			name: "Empty (nil msg)",
		},
		{
			name: "Empty",
			msg:  DIDCommMsgMap{},
		},
		{
			name: "Bad type Type",
			msg:  DIDCommMsgMap{jsonType: map[int]int{}},
		},
		{
			name:     "Success",
			msg:      DIDCommMsgMap{jsonType: "Type"},
			expected: "Type",
		},
	}

	for i := range tests {
		require.Equal(t, tests[i].expected, tests[i].msg.Type())
	}
}

func TestDIDCommMsgMap_ThreadID(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		err      error
		msg      DIDCommMsgMap
	}{
		{
			name: "Empty (nil msg)",
			err:  ErrInvalidMessage,
		},
		{
			name: "No thread nor id",
			msg:  DIDCommMsgMap{},
			err:  ErrThreadIDNotFound,
		},
		{
			name: "Thread decorator without message id",
			msg:  DIDCommMsgMap{jsonThread: map[string]interface{}{jsonThreadID: "thID"}},
			err:  ErrInvalidMessage,
		},
		{
			name:     "Thread id wins over message id",
			msg:      DIDCommMsgMap{jsonID: "ID", jsonThread: map[string]interface{}{jsonThreadID: "thID"}},
			expected: "thID",
		},
		{
			name:     "Thread id defaults to message id",
			msg:      DIDCommMsgMap{jsonID: "ID"},
			expected: "ID",
		},
	}

	for i := range tests {
		thID, err := tests[i].msg.ThreadID()
		require.Equal(t, tests[i].expected, thID, tests[i].name)
		require.ErrorIs(t, err, tests[i].err, tests[i].name)
	}
}

func TestDIDCommMsgMap_ParentThreadID(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		msg      DIDCommMsgMap
	}{
		{
			name: "Empty (nil msg)",
		},
		{
			name: "Empty",
			msg:  DIDCommMsgMap{},
		},
		{
			name: "Thread of wrong shape",
			msg:  DIDCommMsgMap{jsonThread: map[string]int{}},
		},
		{
			name:     "Success",
			msg:      DIDCommMsgMap{jsonThread: map[string]interface{}{jsonParentThreadID: "pthID"}},
			expected: "pthID",
		},
	}

	for i := range tests {
		require.Equal(t, tests[i].expected, tests[i].msg.ParentThreadID())
	}
}

func TestDIDCommMsgMap_Clone(t *testing.T) {
	tests := []struct {
		name     string
		expected DIDCommMsgMap
		msg      DIDCommMsgMap
	}{
		{
			name: "Empty (nil msg)",
		},
		{
			name:     "Empty",
			msg:      DIDCommMsgMap{},
			expected: DIDCommMsgMap{},
		},
		{
			name:     "Success",
			msg:      DIDCommMsgMap{jsonThread: map[string]int{}},
			expected: DIDCommMsgMap{jsonThread: map[string]int{}},
		},
		{
			name:     "Success with parent thread",
			msg:      DIDCommMsgMap{jsonThread: map[string]interface{}{jsonParentThreadID: "pthID"}},
			expected: DIDCommMsgMap{jsonThread: map[string]interface{}{jsonParentThreadID: "pthID"}},
		},
	}

	for i := range tests {
		require.Equal(t, tests[i].expected, tests[i].msg.Clone())
	}
}

func TestDIDCommMsgMap_Metadata(t *testing.T) {
	tests := []struct {
		name     string
		expected map[string]interface{}
		msg      DIDCommMsgMap
	}{
		{
			name:     "Empty",
			msg:      DIDCommMsgMap{},
			expected: map[string]interface{}{},
		},
		{
			name:     "Bad type",
			msg:      DIDCommMsgMap{jsonMetadata: map[int]int{}},
			expected: map[string]interface{}{},
		},
		{
			name:     "Success",
			msg:      DIDCommMsgMap{jsonMetadata: map[string]interface{}{"key": "val"}},
			expected: map[string]interface{}{"key": "val"},
		},
	}

	for i := range tests {
		require.Equal(t, tests[i].expected, tests[i].msg.Metadata())
	}
}

func TestDIDCommMsgMap_MarshalStripsMetadata(t *testing.T) {
	msg := DIDCommMsgMap{
		jsonID:       "ID",
		jsonType:     "Type",
		jsonMetadata: map[string]interface{}{"key": "val"},
	}

	src, err := json.Marshal(msg)
	require.NoError(t, err)

	parsed, err := ParseDIDCommMsgMap(src)
	require.NoError(t, err)
	require.NotContains(t, parsed, jsonMetadata)
	require.Equal(t, "ID", parsed.ID())
}

func TestDIDCommMsgMap_SetThread(t *testing.T) {
	msg := DIDCommMsgMap{jsonID: "ID"}
	msg.SetThread("thID", "pthID")

	thID, err := msg.ThreadID()
	require.NoError(t, err)
	require.Equal(t, "thID", thID)
	require.Equal(t, "pthID", msg.ParentThreadID())

	// both empty leaves the decorator untouched
	msg.SetThread("", "")
	require.Equal(t, "pthID", msg.ParentThreadID())
}

func TestDIDCommMsgMap_ToStruct(t *testing.T) {
	type Test struct {
		Time  time.Time
		Bytes []byte
	}

	expected := Test{
		Time:  time.Now().UTC(),
		Bytes: []byte("payload"),
	}

	b, err := json.Marshal(expected)
	require.NoError(t, err)

	msg, err := ParseDIDCommMsgMap(b)
	require.NoError(t, err)

	actual := Test{}
	require.NoError(t, msg.Decode(&actual))
	require.Equal(t, expected, actual)
}

func TestDIDCommMsgMap_RoundTrip(t *testing.T) {
	msg := DIDCommMsgMap{
		jsonID:   "ID",
		jsonType: "https://didcomm.org/issue-credential/2.0/offer-credential",
	}
	msg.SetThread("thID", "")

	src, err := json.Marshal(msg)
	require.NoError(t, err)

	parsed, err := ParseDIDCommMsgMap(src)
	require.NoError(t, err)

	require.Equal(t, msg.ID(), parsed.ID())
	require.Equal(t, msg.Type(), parsed.Type())

	thID, err := parsed.ThreadID()
	require.NoError(t, err)
	require.Equal(t, "thID", thID)
}
