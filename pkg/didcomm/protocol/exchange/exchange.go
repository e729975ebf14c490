/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package exchange is the generic protocol state machine the protocol services
// are built on. A protocol declares its states, events and legal transitions in
// a Definition; the Machine owns persistence, per-thread mutual exclusion,
// idempotent re-delivery, problem-report handling and state-change
// notifications. Protocol packages contribute only their message types and the
// side effects of each transition.
package exchange

import (
	"errors"
	"fmt"
)

// StateName identifies a protocol state.
type StateName string

// EventName identifies a transition trigger. Protocols use their message type
// names as events for message-driven transitions.
type EventName string

// Pseudo and shared states.
const (
	// StateStart is the implicit state of a thread no record exists for yet.
	StateStart = StateName("start")

	// StateAbandoned is the terminal failure state every protocol shares. It is
	// reached through a problem report, from any non-terminal state.
	StateAbandoned = StateName("abandoned")
)

// EventProblemReport abandons the exchange. It is legal from every non-terminal
// state and wins over any table entry; definitions never list it.
const EventProblemReport = EventName("problem-report")

// ErrIllegalTransition is returned when an event is not legal in the record's
// current state. The record is left untouched.
var ErrIllegalTransition = errors.New("illegal state transition")

// Trigger is a (current state, event) pair.
type Trigger struct {
	From  StateName
	Event EventName
}

// Table maps every legal trigger of a protocol role to the resulting state.
type Table map[Trigger]StateName

// Definition declares one role of one protocol.
type Definition struct {
	// Protocol is the protocol name, e.g. "issue-credential".
	Protocol string

	// Version is the protocol major/minor version, e.g. "2.0".
	Version string

	// Role is the side of the exchange this definition drives, e.g. "issuer".
	Role string

	// Table holds the legal transitions. Triggers from StateStart create the
	// record.
	Table Table

	// Terminals are the states with no way out. StateAbandoned is always
	// terminal and need not be listed.
	Terminals []StateName
}

// Validate reports structural problems in the definition.
func (d *Definition) Validate() error {
	if d.Protocol == "" {
		return errors.New("definition: protocol name is required")
	}

	if len(d.Table) == 0 {
		return fmt.Errorf("definition %s: empty transition table", d.Protocol)
	}

	terminals := d.terminalSet()

	for trigger, next := range d.Table {
		if terminals[trigger.From] {
			return fmt.Errorf("definition %s: transition out of terminal state %s", d.Protocol, trigger.From)
		}

		if trigger.Event == EventProblemReport {
			return fmt.Errorf("definition %s: %s is implicit and must not be listed", d.Protocol, EventProblemReport)
		}

		if next == "" {
			return fmt.Errorf("definition %s: trigger (%s, %s) has no target state",
				d.Protocol, trigger.From, trigger.Event)
		}
	}

	return nil
}

// IsTerminal reports whether the given state has no outgoing transitions.
func (d *Definition) IsTerminal(state StateName) bool {
	return d.terminalSet()[state]
}

func (d *Definition) terminalSet() map[StateName]bool {
	set := map[StateName]bool{StateAbandoned: true}

	for _, s := range d.Terminals {
		set[s] = true
	}

	return set
}

// next resolves the trigger against the table, falling back to the implicit
// problem-report transition.
func (d *Definition) next(state StateName, ev EventName) (StateName, bool) {
	if ev == EventProblemReport {
		if d.IsTerminal(state) {
			return "", false
		}

		return StateAbandoned, true
	}

	next, ok := d.Table[Trigger{From: state, Event: ev}]

	return next, ok
}
