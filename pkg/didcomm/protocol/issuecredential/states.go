/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuecredential

import "github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/exchange"

// Protocol states. Which of them a given agent passes through depends on its
// role in the exchange.
const (
	// StateProposalReceived the issuer holds a proposal from the holder.
	StateProposalReceived = exchange.StateName("proposal-received")
	// StateOfferSent the issuer has sent an offer.
	StateOfferSent = exchange.StateName("offer-sent")
	// StateRequestReceived the issuer holds a request from the holder.
	StateRequestReceived = exchange.StateName("request-received")
	// StateCredentialIssued the issuer has sent the credential.
	StateCredentialIssued = exchange.StateName("credential-issued")

	// StateProposalSent the holder has sent a proposal.
	StateProposalSent = exchange.StateName("proposal-sent")
	// StateOfferReceived the holder holds an offer from the issuer.
	StateOfferReceived = exchange.StateName("offer-received")
	// StateRequestSent the holder has sent a request.
	StateRequestSent = exchange.StateName("request-sent")
	// StateCredentialReceived the holder holds the issued credential.
	StateCredentialReceived = exchange.StateName("credential-received")

	// StateDone the exchange completed successfully. Terminal.
	StateDone = exchange.StateName("done")
)

// Roles.
const (
	RoleIssuer = "issuer"
	RoleHolder = "holder"
)

// Transition events, one per protocol message.
const (
	eventPropose = exchange.EventName("propose-credential")
	eventOffer   = exchange.EventName("offer-credential")
	eventRequest = exchange.EventName("request-credential")
	eventIssue   = exchange.EventName("issue-credential")
	eventAck     = exchange.EventName("ack")
)

// IssuerDefinition declares the issuer side of the protocol.
func IssuerDefinition() exchange.Definition {
	return exchange.Definition{
		Protocol: Name,
		Version:  "2.0",
		Role:     RoleIssuer,
		Table: exchange.Table{
			{From: exchange.StateStart, Event: eventPropose}: StateProposalReceived,
			{From: exchange.StateStart, Event: eventOffer}:   StateOfferSent,
			{From: exchange.StateStart, Event: eventRequest}: StateRequestReceived,

			{From: StateProposalReceived, Event: eventOffer}: StateOfferSent,

			// the holder may counter-propose instead of requesting
			{From: StateOfferSent, Event: eventPropose}: StateProposalReceived,
			{From: StateOfferSent, Event: eventRequest}: StateRequestReceived,

			{From: StateRequestReceived, Event: eventIssue}: StateCredentialIssued,

			{From: StateCredentialIssued, Event: eventAck}: StateDone,
		},
		Terminals: []exchange.StateName{StateDone},
	}
}

// HolderDefinition declares the holder side of the protocol.
func HolderDefinition() exchange.Definition {
	return exchange.Definition{
		Protocol: Name,
		Version:  "2.0",
		Role:     RoleHolder,
		Table: exchange.Table{
			{From: exchange.StateStart, Event: eventPropose}: StateProposalSent,
			{From: exchange.StateStart, Event: eventOffer}:   StateOfferReceived,
			{From: exchange.StateStart, Event: eventRequest}: StateRequestSent,

			{From: StateProposalSent, Event: eventOffer}: StateOfferReceived,

			{From: StateOfferReceived, Event: eventPropose}: StateProposalSent,
			{From: StateOfferReceived, Event: eventRequest}: StateRequestSent,

			{From: StateRequestSent, Event: eventIssue}: StateCredentialReceived,

			{From: StateCredentialReceived, Event: eventAck}: StateDone,
		},
		Terminals: []exchange.StateName{StateDone},
	}
}
