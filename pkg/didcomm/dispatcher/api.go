/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package dispatcher routes decoded messages to the protocol service registered
// for their message type.
package dispatcher

import (
	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
)

// ProtocolService is the capability every protocol exchange service exposes to
// the dispatch layer.
type ProtocolService interface {
	// service handler
	service.Handler

	// Accept checks whether the service handles the given message type.
	Accept(msgType string) bool

	// Name of the protocol, e.g. "issue-credential".
	Name() string
}

// Outbound sends messages to other agents.
type Outbound interface {
	// SendToConnection packs and delivers the message to the given connection,
	// preferring the transport session with the given id when it is still open.
	SendToConnection(msg service.DIDCommMsgMap, connectionID, sessionID string) error

	// Send packs and delivers the message to an explicit destination.
	Send(msg service.DIDCommMsgMap, senderKey string, dest *service.Destination) error
}
