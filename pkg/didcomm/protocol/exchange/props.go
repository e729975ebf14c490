/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

// Props carries the record snapshots around a transition as event properties.
type Props struct {
	before *Record
	after  *Record
}

// NewProps builds event properties from record snapshots.
func NewProps(before, after *Record) *Props {
	return &Props{before: before, after: after}
}

// Before returns the record as it was when the transition started. Nil for a
// thread that had no record yet.
func (p *Props) Before() *Record {
	return p.before
}

// After returns the persisted record. Nil on pre-state notifications.
func (p *Props) After() *Record {
	return p.after
}

// All implements service.EventProperties.
func (p *Props) All() map[string]interface{} {
	all := map[string]interface{}{}

	if p.before != nil {
		all["before"] = p.before
	}

	if p.after != nil {
		all["after"] = p.after
	}

	return all
}
