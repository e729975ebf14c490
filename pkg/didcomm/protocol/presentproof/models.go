/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package presentproof

import "github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/decorator"

// Format maps an attachment id to the proof format it carries.
type Format struct {
	AttachID string `json:"attach_id,omitempty"`
	Format   string `json:"format,omitempty"`
}

// ProposePresentation is the prover's opening or counter message.
type ProposePresentation struct {
	ID              string                 `json:"@id,omitempty"`
	Type            string                 `json:"@type,omitempty"`
	Comment         string                 `json:"comment,omitempty"`
	Formats         []Format               `json:"formats,omitempty"`
	ProposalsAttach []decorator.Attachment `json:"proposals~attach,omitempty"`
}

// RequestPresentation is the verifier's request for proof.
type RequestPresentation struct {
	ID                         string                 `json:"@id,omitempty"`
	Type                       string                 `json:"@type,omitempty"`
	Comment                    string                 `json:"comment,omitempty"`
	WillConfirm                bool                   `json:"will_confirm,omitempty"`
	Formats                    []Format               `json:"formats,omitempty"`
	RequestPresentationsAttach []decorator.Attachment `json:"request_presentations~attach,omitempty"`
}

// Presentation carries the proof itself.
type Presentation struct {
	ID                  string                 `json:"@id,omitempty"`
	Type                string                 `json:"@type,omitempty"`
	Comment             string                 `json:"comment,omitempty"`
	Formats             []Format               `json:"formats,omitempty"`
	PresentationsAttach []decorator.Attachment `json:"presentations~attach,omitempty"`
}

// Ack confirms the presentation and closes the exchange.
type Ack struct {
	ID     string `json:"@id,omitempty"`
	Type   string `json:"@type,omitempty"`
	Status string `json:"status,omitempty"`
}
