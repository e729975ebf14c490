/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

// Handler provides the protocol service handle API for inbound messages. The
// returned string is the thread id of the exchange the message was applied to.
type Handler interface {
	HandleInbound(msg DIDCommMsgMap, ctx DIDCommContext) (string, error)
}

// OutboundHandler handles messages this agent originates for a given connection.
type OutboundHandler interface {
	HandleOutbound(msg DIDCommMsgMap, connectionID string) (string, error)
}

// DIDComm defines the service APIs exposed by every protocol service.
type DIDComm interface {
	// service handler
	Handler

	// event service
	Event
}

// DIDCommContext is the processing context resolved for an inbound message:
// which connection it belongs to and, when the transport kept the inbound
// channel open, which session a reply may reuse.
type DIDCommContext interface {
	MyDID() string
	TheirDID() string
	ConnectionID() string
	SessionID() string
	All() map[string]interface{}
}

// NewDIDCommContext returns a new DIDCommContext with the given DIDs, connection
// id and properties.
func NewDIDCommContext(myDID, theirDID, connectionID string, props map[string]interface{}) DIDCommContext {
	return &context{
		myDID:        myDID,
		theirDID:     theirDID,
		connectionID: connectionID,
		props:        props,
	}
}

// WithSession attaches a transport session id to the given context.
func WithSession(ctx DIDCommContext, sessionID string) DIDCommContext {
	return &context{
		myDID:        ctx.MyDID(),
		theirDID:     ctx.TheirDID(),
		connectionID: ctx.ConnectionID(),
		sessionID:    sessionID,
		props:        ctx.All(),
	}
}

// EmptyDIDCommContext returns a DIDCommContext with no DIDs nor properties.
func EmptyDIDCommContext() DIDCommContext {
	return &context{props: make(map[string]interface{})}
}

type context struct {
	myDID        string
	theirDID     string
	connectionID string
	sessionID    string
	props        map[string]interface{}
}

func (c *context) MyDID() string {
	return c.myDID
}

func (c *context) TheirDID() string {
	return c.theirDID
}

func (c *context) ConnectionID() string {
	return c.connectionID
}

func (c *context) SessionID() string {
	return c.sessionID
}

func (c *context) All() map[string]interface{} {
	return c.props
}
