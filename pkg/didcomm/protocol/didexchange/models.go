/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didexchange

// Invitation is the out-of-band message that bootstraps a connection. It
// travels outside DIDComm (QR code, deep link) and is therefore not encrypted.
type Invitation struct {
	ID              string   `json:"@id,omitempty"`
	Type            string   `json:"@type,omitempty"`
	Label           string   `json:"label,omitempty"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
}

// Connection describes one party's DID and reachability inside a request or
// response.
type Connection struct {
	DID             string   `json:"did,omitempty"`
	Label           string   `json:"label,omitempty"`
	RecipientKeys   []string `json:"recipientKeys,omitempty"`
	ServiceEndpoint string   `json:"serviceEndpoint,omitempty"`
	RoutingKeys     []string `json:"routingKeys,omitempty"`
}

// Request is the invitee's connection request.
type Request struct {
	ID         string      `json:"@id,omitempty"`
	Type       string      `json:"@type,omitempty"`
	Label      string      `json:"label,omitempty"`
	Connection *Connection `json:"connection,omitempty"`
}

// Response is the inviter's answer to a request.
type Response struct {
	ID         string      `json:"@id,omitempty"`
	Type       string      `json:"@type,omitempty"`
	Connection *Connection `json:"connection,omitempty"`
}

// Complete finalizes the exchange.
type Complete struct {
	ID   string `json:"@id,omitempty"`
	Type string `json:"@type,omitempty"`
}
