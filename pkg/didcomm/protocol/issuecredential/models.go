/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuecredential

import "github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/decorator"

// CredentialPreview is the inner object the holder and issuer negotiate over.
type CredentialPreview struct {
	Type       string      `json:"@type,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Attribute describes one attribute of the credential under negotiation.
type Attribute struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime-type,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Format maps an attachment id to the credential format it carries.
type Format struct {
	AttachID string `json:"attach_id,omitempty"`
	Format   string `json:"format,omitempty"`
}

// ProposeCredential is the holder's opening or counter message.
type ProposeCredential struct {
	ID                 string                 `json:"@id,omitempty"`
	Type               string                 `json:"@type,omitempty"`
	Comment            string                 `json:"comment,omitempty"`
	CredentialProposal CredentialPreview      `json:"credential_proposal,omitempty"`
	Formats            []Format               `json:"formats,omitempty"`
	FiltersAttach      []decorator.Attachment `json:"filters~attach,omitempty"`
}

// OfferCredential is the issuer's offer.
type OfferCredential struct {
	ID                string                 `json:"@id,omitempty"`
	Type              string                 `json:"@type,omitempty"`
	Comment           string                 `json:"comment,omitempty"`
	CredentialPreview CredentialPreview      `json:"credential_preview,omitempty"`
	Formats           []Format               `json:"formats,omitempty"`
	OffersAttach      []decorator.Attachment `json:"offers~attach,omitempty"`
}

// RequestCredential is the holder's request for issuance.
type RequestCredential struct {
	ID             string                 `json:"@id,omitempty"`
	Type           string                 `json:"@type,omitempty"`
	Comment        string                 `json:"comment,omitempty"`
	Formats        []Format               `json:"formats,omitempty"`
	RequestsAttach []decorator.Attachment `json:"requests~attach,omitempty"`
}

// IssueCredential carries the issued credential.
type IssueCredential struct {
	ID                string                 `json:"@id,omitempty"`
	Type              string                 `json:"@type,omitempty"`
	Comment           string                 `json:"comment,omitempty"`
	Formats           []Format               `json:"formats,omitempty"`
	CredentialsAttach []decorator.Attachment `json:"credentials~attach,omitempty"`
}

// Ack acknowledges receipt of the credential and closes the exchange.
type Ack struct {
	ID     string `json:"@id,omitempty"`
	Type   string `json:"@type,omitempty"`
	Status string `json:"status,omitempty"`
}
