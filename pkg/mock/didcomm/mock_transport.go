/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mockdidcomm provides hand-written test doubles for the transport and
// packaging boundaries.
package mockdidcomm

import (
	"sync"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/common/service"
	"github.com/aether-id/didcomm-engine/pkg/didcomm/transport"
)

// MockOutboundTransport is a mock outbound transport.
type MockOutboundTransport struct {
	AcceptFunc func(url string) bool
	SendFunc   func(data []byte, dest *service.Destination) (string, error)

	mu   sync.Mutex
	sent [][]byte
}

// Start implements transport.OutboundTransport.
func (m *MockOutboundTransport) Start(transport.Provider) error { return nil }

// Accept implements transport.OutboundTransport.
func (m *MockOutboundTransport) Accept(url string) bool {
	if m.AcceptFunc != nil {
		return m.AcceptFunc(url)
	}

	return true
}

// Send implements transport.OutboundTransport.
func (m *MockOutboundTransport) Send(data []byte, dest *service.Destination) (string, error) {
	m.mu.Lock()
	m.sent = append(m.sent, data)
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(data, dest)
	}

	return "", nil
}

// Sent returns all payloads passed to Send, including failed attempts.
func (m *MockOutboundTransport) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append(m.sent[:0:0], m.sent...)
}

// MockSession is a mock transport session.
type MockSession struct {
	SessionID   string
	SessionType string
	SendErr     error

	mu     sync.Mutex
	closed bool
	sent   [][]byte
}

// ID implements transport.Session.
func (m *MockSession) ID() string { return m.SessionID }

// Type implements transport.Session.
func (m *MockSession) Type() string {
	if m.SessionType == "" {
		return "mock"
	}

	return m.SessionType
}

// IsOpen implements transport.Session.
func (m *MockSession) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return !m.closed
}

// Send implements transport.Session.
func (m *MockSession) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return transport.ErrSessionClosed
	}

	if m.SendErr != nil {
		return m.SendErr
	}

	m.sent = append(m.sent, data)

	return nil
}

// Close implements transport.Session.
func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

// Sent returns all payloads sent on the session.
func (m *MockSession) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append(m.sent[:0:0], m.sent...)
}

// MockPackager is a pass-through packager: PackMessage returns the plaintext
// unchanged and UnpackMessage wraps the received bytes in an envelope.
type MockPackager struct {
	PackFunc   func(envelope *transport.Envelope) ([]byte, error)
	UnpackFunc func(encMessage []byte) (*transport.Envelope, error)
}

// PackMessage implements transport.Packager.
func (m *MockPackager) PackMessage(envelope *transport.Envelope) ([]byte, error) {
	if m.PackFunc != nil {
		return m.PackFunc(envelope)
	}

	return envelope.Message, nil
}

// UnpackMessage implements transport.Packager.
func (m *MockPackager) UnpackMessage(encMessage []byte) (*transport.Envelope, error) {
	if m.UnpackFunc != nil {
		return m.UnpackFunc(encMessage)
	}

	return &transport.Envelope{Message: encMessage}, nil
}
