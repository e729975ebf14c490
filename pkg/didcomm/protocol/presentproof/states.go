/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package presentproof

import "github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/exchange"

// Protocol states.
const (
	// StateProposalReceived the verifier holds a proposal from the prover.
	StateProposalReceived = exchange.StateName("proposal-received")
	// StateRequestSent the verifier has sent a presentation request.
	StateRequestSent = exchange.StateName("request-sent")
	// StatePresentationReceived the verifier holds the presentation.
	StatePresentationReceived = exchange.StateName("presentation-received")

	// StateProposalSent the prover has sent a proposal.
	StateProposalSent = exchange.StateName("proposal-sent")
	// StateRequestReceived the prover holds a presentation request.
	StateRequestReceived = exchange.StateName("request-received")
	// StatePresentationSent the prover has sent the presentation.
	StatePresentationSent = exchange.StateName("presentation-sent")

	// StateDone the exchange completed successfully. Terminal.
	StateDone = exchange.StateName("done")
)

// Roles.
const (
	RoleVerifier = "verifier"
	RoleProver   = "prover"
)

// Transition events, one per protocol message.
const (
	eventPropose      = exchange.EventName("propose-presentation")
	eventRequest      = exchange.EventName("request-presentation")
	eventPresentation = exchange.EventName("presentation")
	eventAck          = exchange.EventName("ack")
)

// VerifierDefinition declares the verifier side of the protocol.
func VerifierDefinition() exchange.Definition {
	return exchange.Definition{
		Protocol: Name,
		Version:  "2.0",
		Role:     RoleVerifier,
		Table: exchange.Table{
			{From: exchange.StateStart, Event: eventPropose}: StateProposalReceived,
			{From: exchange.StateStart, Event: eventRequest}: StateRequestSent,

			{From: StateProposalReceived, Event: eventRequest}: StateRequestSent,

			// the prover may counter-propose instead of presenting
			{From: StateRequestSent, Event: eventPropose}:      StateProposalReceived,
			{From: StateRequestSent, Event: eventPresentation}: StatePresentationReceived,

			{From: StatePresentationReceived, Event: eventAck}: StateDone,
		},
		Terminals: []exchange.StateName{StateDone},
	}
}

// ProverDefinition declares the prover side of the protocol.
func ProverDefinition() exchange.Definition {
	return exchange.Definition{
		Protocol: Name,
		Version:  "2.0",
		Role:     RoleProver,
		Table: exchange.Table{
			{From: exchange.StateStart, Event: eventPropose}: StateProposalSent,
			{From: exchange.StateStart, Event: eventRequest}: StateRequestReceived,

			{From: StateProposalSent, Event: eventRequest}: StateRequestReceived,

			{From: StateRequestReceived, Event: eventPropose}:      StateProposalSent,
			{From: StateRequestReceived, Event: eventPresentation}: StatePresentationSent,

			{From: StatePresentationSent, Event: eventAck}: StateDone,
		},
		Terminals: []exchange.StateName{StateDone},
	}
}
