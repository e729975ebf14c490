/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

// StateMsgType state msg type.
type StateMsgType int

const (
	// PreState announces a validated transition, always before its PostState.
	PreState StateMsgType = iota

	// PostState is emitted after the transition has been persisted.
	PostState
)

// StateMsg is used to pass state transition details to event consumers. Refer
// service.Event.RegisterMsgEvent for more details.
type StateMsg struct {
	// Name of the protocol.
	ProtocolName string

	// type of the message (pre or post), refer service.StateMsgType
	Type StateMsgType

	// current state. Refer the protocol RFC for possible states.
	StateID string

	// DIDComm message that caused the transition.
	Msg DIDCommMsgMap

	// Properties contains protocol-specific event data, e.g. the exchange record
	// snapshot before and after the transition.
	Properties EventProperties
}

// DIDCommAction message type to pass events in go channels.
type DIDCommAction struct {
	// Name of the protocol.
	ProtocolName string

	// DIDComm message awaiting a decision.
	Message DIDCommMsgMap

	// Continue function to be called by the consumer to proceed with the exchange,
	// producing the protocol's next expected message.
	Continue func(args interface{})

	// Stop notifies the service that the consumer wants to abandon the exchange.
	// The exchange record transitions to its abandoned state and a problem report
	// is sent to the other party.
	Stop func(err error)

	// Properties contains protocol-specific event data.
	Properties EventProperties
}

// EventProperties type for event related data.
// NOTE: Properties always should be serializable.
type EventProperties interface {
	All() map[string]interface{}
}

// Event event related apis.
type Event interface {
	// RegisterActionEvent on protocol messages. Action events are triggered for
	// incoming messages that require a decision and the auto-accept policy did not
	// resolve them. The consumer must invoke Continue or Stop to resume processing.
	// Only one channel can be registered for action events; the function returns an
	// error if a channel is already registered.
	RegisterActionEvent(ch chan<- DIDCommAction) error

	// UnregisterActionEvent on protocol messages. Refer RegisterActionEvent().
	UnregisterActionEvent(ch chan<- DIDCommAction) error

	// RegisterMsgEvent on protocol state messages. The service does not expect any
	// callback on these events, unlike action events.
	RegisterMsgEvent(ch chan<- StateMsg) error

	// UnregisterMsgEvent on protocol state messages. Refer RegisterMsgEvent().
	UnregisterMsgEvent(ch chan<- StateMsg) error
}

// AutoExecuteActionEvent is a utility function to execute action events
// automatically. The function requires a channel to be passed-in to listen for
// service.DIDCommAction and triggers the Continue function on the action event.
// This is a blocking function; use it with a goroutine.
//
// Usage:
//
//	s := issuecredential.New(....)
//	actionCh := make(chan service.DIDCommAction)
//	err = s.RegisterActionEvent(actionCh)
//	go service.AutoExecuteActionEvent(actionCh)
func AutoExecuteActionEvent(ch chan DIDCommAction) {
	for msg := range ch {
		msg.Continue(&Empty{})
	}
}

// Empty is used if there are no arguments to Continue.
type Empty struct{}
