/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didexchange

import "github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/exchange"

// Protocol states.
const (
	// StateInvited an invitation has been received (invitee) or issued (inviter).
	StateInvited = exchange.StateName("invited")
	// StateRequested a connection request is in flight.
	StateRequested = exchange.StateName("requested")
	// StateResponded the inviter has answered the request.
	StateResponded = exchange.StateName("responded")
	// StateCompleted both parties confirmed the connection. Terminal.
	StateCompleted = exchange.StateName("completed")
)

// Roles.
const (
	RoleInviter = "inviter"
	RoleInvitee = "invitee"
)

// Transition events, one per protocol message.
const (
	eventInvitation = exchange.EventName("invitation")
	eventRequest    = exchange.EventName("request")
	eventResponse   = exchange.EventName("response")
	eventComplete   = exchange.EventName("complete")
)

// InviterDefinition declares the inviter side of the protocol.
func InviterDefinition() exchange.Definition {
	return exchange.Definition{
		Protocol: Name,
		Version:  "1.0",
		Role:     RoleInviter,
		Table: exchange.Table{
			// requests may reference an invitation or arrive out of the blue;
			// either way the inviter first hears of the thread here
			{From: exchange.StateStart, Event: eventRequest}: StateRequested,

			{From: StateRequested, Event: eventResponse}: StateResponded,

			{From: StateResponded, Event: eventComplete}: StateCompleted,
		},
		Terminals: []exchange.StateName{StateCompleted},
	}
}

// InviteeDefinition declares the invitee side of the protocol.
func InviteeDefinition() exchange.Definition {
	return exchange.Definition{
		Protocol: Name,
		Version:  "1.0",
		Role:     RoleInvitee,
		Table: exchange.Table{
			{From: exchange.StateStart, Event: eventInvitation}: StateInvited,

			{From: exchange.StateStart, Event: eventRequest}: StateRequested,
			{From: StateInvited, Event: eventRequest}:        StateRequested,

			{From: StateRequested, Event: eventResponse}: StateResponded,

			{From: StateResponded, Event: eventComplete}: StateCompleted,
		},
		Terminals: []exchange.StateName{StateCompleted},
	}
}
