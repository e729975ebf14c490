/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package decorator

import "time"

const (
	// TransportReturnRouteNone return route option none.
	TransportReturnRouteNone = "none"

	// TransportReturnRouteAll return route option all.
	TransportReturnRouteAll = "all"

	// TransportReturnRouteThread return route option thread.
	TransportReturnRouteThread = "thread"
)

// Thread thread data.
type Thread struct {
	ID  string `json:"thid,omitempty"`
	PID string `json:"pthid,omitempty"`
}

// Timing keeps expiration time.
type Timing struct {
	ExpiresTime time.Time `json:"expires_time,omitempty"`
}

// Transport transport decorator; requests the receiver to reuse the inbound
// connection for any replies.
// https://github.com/hyperledger/aries-rfcs/tree/master/features/0092-transport-return-route
type Transport struct {
	ReturnRoute *ReturnRoute `json:"~transport,omitempty"`
}

// ReturnRoute works with the transport decorator. Acceptable values: "none",
// "all" or "thread".
type ReturnRoute struct {
	Value string `json:"~return_route,omitempty"`
}

// Attachment is intended to provide the possibility to include files, links or
// even JSON payload to the message.
// https://github.com/hyperledger/aries-rfcs/tree/master/concepts/0017-attachments
type Attachment struct {
	// ID is a JSON-LD construct that uniquely identifies attached content within the scope of a given message.
	ID string `json:"@id,omitempty"`
	// Description is an optional human-readable description of the content.
	Description string `json:"description,omitempty"`
	// FileName is a hint about the name that might be used if this attachment is persisted as a file.
	FileName string `json:"filename,omitempty"`
	// MimeType describes the MIME type of the attached content.
	MimeType string `json:"mime-type,omitempty"`
	// LastModTime is a hint about when the content in this attachment was last modified.
	LastModTime time.Time `json:"lastmod_time,omitempty"`
	// Data is a JSON object that gives access to the actual content of the attachment.
	Data AttachmentData `json:"data,omitempty"`
}

// AttachmentData contains attachment payload.
type AttachmentData struct {
	// Base64 contains the base64-encoded bytes of the attachment.
	Base64 string `json:"base64,omitempty"`
	// JSON contains directly embedded JSON data.
	JSON interface{} `json:"json,omitempty"`
	// Links is a list of zero or more locations at which the content may be fetched.
	Links []string `json:"links,omitempty"`
}
