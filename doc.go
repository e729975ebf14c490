/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package didcommengine provides an agent-to-agent secure messaging engine for the
// DIDComm protocol family: envelope packing/unpacking, message-type dispatch,
// thread-correlated protocol state machines (connection establishment, credential
// issuance, proof presentation) with auto-accept policies, and the inbound/outbound
// plumbing that ties them to pluggable wallet, storage and transport capabilities.
//
// Packages for end developer usage
//
// pkg/framework/engine: assembles the full stack into a running agent behind a
// single constructor.
//
// pkg/didcomm/dispatcher/inbound: entry point for inbound envelopes, decoding and
// routing them to the registered protocol service.
//
// pkg/didcomm/dispatcher/outbound: delivery of outbound messages over registered
// transports, with session reuse and endpoint fallback.
//
// pkg/didcomm/protocol/issuecredential, pkg/didcomm/protocol/presentproof,
// pkg/didcomm/protocol/didexchange: the protocol exchange state machines.
package didcommengine
