/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package wallet defines the opaque cryptographic capability consumed by the
// messaging engine. Key generation and the envelope byte layout are owned by the
// implementation; the engine only moves plaintext and ciphertext across this
// boundary.
package wallet

import "errors"

// ErrKeyNotFound is returned by Decrypt when none of the envelope's recipient
// keys is held by the wallet.
var ErrKeyNotFound = errors.New("no matching key in wallet")

// Wallet provides encryption, decryption and signing over raw verification keys.
type Wallet interface {
	// Encrypt encrypts the payload for the given recipient keys. A nil senderKey
	// produces an anonymous envelope.
	Encrypt(payload []byte, recipientKeys [][]byte, senderKey []byte) ([]byte, error)

	// Decrypt decrypts a received envelope, returning the plaintext, the sender's
	// key when the envelope was authenticated, and the recipient key that matched.
	// Returns ErrKeyNotFound when no recipient key is held by the wallet.
	Decrypt(ciphertext []byte) (plaintext, senderKey, recipientKey []byte, err error)

	// Sign signs the message with the given key.
	Sign(message, signerKey []byte) ([]byte, error)

	// Verify verifies the signature over the message with the given key.
	Verify(message, signature, signerKey []byte) error
}
