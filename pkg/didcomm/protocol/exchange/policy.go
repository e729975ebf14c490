/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import "github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"

// AutoAccept controls whether a protocol service advances without waiting for
// an action-event decision from the agent controller.
type AutoAccept int

const (
	// AutoAcceptNever always stops at an action event. The default.
	AutoAcceptNever AutoAccept = iota

	// AutoAcceptContentApproved accepts only when the incoming message content
	// matches what this side already proposed or offered.
	AutoAcceptContentApproved

	// AutoAcceptAlways accepts every incoming protocol message.
	AutoAcceptAlways
)

func (a AutoAccept) String() string {
	switch a {
	case AutoAcceptContentApproved:
		return "content-approved"
	case AutoAcceptAlways:
		return "always"
	default:
		return "never"
	}
}

// Approver decides whether the incoming message content matches the content
// this side previously approved. Used by AutoAcceptContentApproved only.
type Approver func(record *Record, msg service.DIDCommMsgMap) bool

// AcceptPolicy combines the auto-accept mode with the protocol's content
// comparer.
type AcceptPolicy struct {
	Mode    AutoAccept
	Approve Approver
}

// Accepts reports whether the message may be processed without an explicit
// controller decision.
func (p AcceptPolicy) Accepts(record *Record, msg service.DIDCommMsgMap) bool {
	switch p.Mode {
	case AutoAcceptAlways:
		return true
	case AutoAcceptContentApproved:
		return p.Approve != nil && p.Approve(record, msg)
	default:
		return false
	}
}
