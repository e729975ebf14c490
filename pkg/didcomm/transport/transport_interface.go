/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"errors"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
)

// Envelope holds message data and metadata for inbound and outbound messaging.
type Envelope struct {
	Message []byte
	// FromKey is the sender's verification key, base58-encoded. Empty for an
	// anonymous envelope.
	FromKey string
	// ToKeys stores base58-encoded verification keys for an outbound message.
	ToKeys []string
	// ToKey holds the key that was used to decrypt an inbound message.
	ToKey string
}

// Packager manages the building and parsing of DIDComm raw messages in JSON
// envelopes. These envelopes are used as wire-level wrappers of messages sent in
// agent-to-agent communication.
type Packager interface {
	// PackMessage packs a message for one or more recipients.
	PackMessage(envelope *Envelope) ([]byte, error)

	// UnpackMessage unpacks a received message.
	UnpackMessage(encMessage []byte) (*Envelope, error)
}

// ErrSendFailed is the sentinel wrapped by per-endpoint transport failures; the
// outbound dispatcher falls back to the next endpoint when it sees one.
var ErrSendFailed = errors.New("transport send failed")

// OutboundTransport interface definition for the transport layer. This is the
// client side of the agent.
type OutboundTransport interface {
	// Start starts the outbound transport.
	Start(prov Provider) error

	// Send sends packed data to the destination endpoint. Failures wrap
	// ErrSendFailed.
	Send(data []byte, destination *service.Destination) (string, error)

	// Accept checks if this transport can deliver to the given endpoint URL.
	Accept(url string) bool
}

// InboundMessageHandler handles inbound envelopes. The session is non-nil when the
// transport keeps the inbound channel open for a reply.
type InboundMessageHandler func(message []byte, session Session) error

// InboundTransport interface definition for the inbound transport layer.
type InboundTransport interface {
	// Start starts the inbound transport, delivering received envelopes through
	// the provider's InboundMessageHandler.
	Start(prov Provider) error

	// Stop stops the inbound transport.
	Stop() error

	// Endpoint returns the endpoint this transport is reachable at.
	Endpoint() string
}

// Provider contains the dependencies handed to transports on Start.
type Provider interface {
	InboundMessageHandler() InboundMessageHandler
	Packager() Packager
	Sessions() *SessionRegistry
}
