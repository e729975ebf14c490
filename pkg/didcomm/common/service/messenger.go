/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

// The messenger is responsible for threading of agent-to-agent communication.
// Every message sent through it is a DIDCommMsgMap; fields like @id and ~thread
// are populated by the messenger and may be rewritten.

// Messenger provides methods for sending protocol messages.
type Messenger interface {
	// ReplyTo replies to the inbound message with the given msgID, keeping the
	// conversation on the same thread and preferring the inbound transport session
	// when the sender requested return routing.
	ReplyTo(msgID string, msg DIDCommMsgMap) error

	// Send sends the message to the given connection, starting a new thread.
	Send(msg DIDCommMsgMap, connectionID string) error

	// ReplyToNested sends the message on a new thread that is nested under the
	// given parent thread.
	ReplyToNested(pthID string, msg DIDCommMsgMap, connectionID string) error
}

// InboundMessenger records inbound message context so that later replies can be
// threaded and routed back.
type InboundMessenger interface {
	Messenger

	// HandleInbound records the inbound message context.
	HandleInbound(msg DIDCommMsgMap, ctx DIDCommContext) error
}
