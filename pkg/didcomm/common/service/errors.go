/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import "errors"

var (
	// ErrNilChannel is returned when a nil channel is passed to a register function.
	ErrNilChannel = errors.New("cannot pass nil channel")

	// ErrChannelRegistered is returned when an action channel is already registered.
	ErrChannelRegistered = errors.New("channel is already registered for the action event")

	// ErrInvalidChannel is returned when an unregister call names a channel that was
	// never registered.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrInvalidMessage is returned when a message is structurally unusable,
	// e.g. a thread decorator without a message id.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrThreadIDNotFound is returned when neither a thread id nor a message id is
	// present on the message.
	ErrThreadIDNotFound = errors.New("threadID not found")
)
