/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package problemreport implements the report-problem message family. A problem
// report is the in-band way to tell the other party that an exchange cannot
// proceed; protocol services treat it as a terminal signal for the thread it
// names.
package problemreport

import (
	"github.com/google/uuid"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/protocol/decorator"
)

// ProblemReportMsgType is the report-problem 1.0 message type.
const ProblemReportMsgType = "https://didcomm.org/report-problem/1.0/problem-report"

// Well-known problem codes.
const (
	CodeUnsupportedMessageType = "e.p.msg.unsupported"
	CodeRequestDeclined        = "e.p.req.declined"
	CodeProcessingError        = "e.p.msg.processing-error"
)

// ProblemReport is the report-problem message body.
type ProblemReport struct {
	ID          string           `json:"@id,omitempty"`
	Type        string           `json:"@type,omitempty"`
	Thread      decorator.Thread `json:"~thread,omitempty"`
	Description Description      `json:"description,omitempty"`
	Comment     string           `json:"comment,omitempty"`
}

// Description holds the machine-readable problem code and a human-readable
// rendering of it.
type Description struct {
	Code string `json:"code,omitempty"`
	En   string `json:"en,omitempty"`
}

// New builds a problem-report message threaded to the given thread id.
func New(thID, code, comment string) service.DIDCommMsgMap {
	msg := service.NewDIDCommMsgMap(&ProblemReport{
		ID:          uuid.New().String(),
		Type:        ProblemReportMsgType,
		Thread:      decorator.Thread{ID: thID},
		Description: Description{Code: code, En: comment},
		Comment:     comment,
	})

	return msg
}
