/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package packager converts between the wire-level ciphertext blob and a typed
// plaintext message plus its key metadata, delegating the actual encryption and
// decryption to the wallet capability.
package packager

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"

	"github.com/aether-id/didcomm-engine/pkg/didcomm/transport"
	"github.com/aether-id/didcomm-engine/pkg/wallet"
)

var (
	// ErrMalformedEnvelope is returned when the plaintext is not JSON or misses
	// the mandatory @id/@type fields.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrDecryptionFailed is returned when the wallet holds no matching key for
	// the received envelope.
	ErrDecryptionFailed = errors.New("envelope decryption failed")
)

// Provider contains dependencies for the packager.
type Provider interface {
	Wallet() wallet.Wallet
}

// Packager is the transport.Packager implementation backed by the wallet
// capability.
type Packager struct {
	wallet wallet.Wallet
}

// New returns a new Packager.
func New(prov Provider) *Packager {
	return &Packager{wallet: prov.Wallet()}
}

// PackMessage packs the envelope's plaintext for its recipient keys. Encoding
// happens immediately before the transport call so the most current key state is
// used; callers must not cache the packed bytes across key rotations.
func (p *Packager) PackMessage(envelope *transport.Envelope) ([]byte, error) {
	if envelope == nil {
		return nil, fmt.Errorf("packMessage: %w: nil envelope", ErrMalformedEnvelope)
	}

	if err := validatePlaintext(envelope.Message); err != nil {
		return nil, fmt.Errorf("packMessage: %w", err)
	}

	if len(envelope.ToKeys) == 0 {
		return nil, fmt.Errorf("packMessage: %w: no recipient keys", ErrMalformedEnvelope)
	}

	recipients := make([][]byte, len(envelope.ToKeys))

	for i, key := range envelope.ToKeys {
		raw := base58.Decode(key)
		if len(raw) == 0 {
			return nil, fmt.Errorf("packMessage: %w: bad recipient key %q", ErrMalformedEnvelope, key)
		}

		recipients[i] = raw
	}

	var senderKey []byte
	if envelope.FromKey != "" {
		senderKey = base58.Decode(envelope.FromKey)
	}

	ciphertext, err := p.wallet.Encrypt(envelope.Message, recipients, senderKey)
	if err != nil {
		return nil, fmt.Errorf("packMessage: encrypt: %w", err)
	}

	return ciphertext, nil
}

// UnpackMessage unpacks a received ciphertext blob into its plaintext message and
// key metadata.
func (p *Packager) UnpackMessage(encMessage []byte) (*transport.Envelope, error) {
	plaintext, senderKey, recipientKey, err := p.wallet.Decrypt(encMessage)
	if err != nil {
		if errors.Is(err, wallet.ErrKeyNotFound) {
			return nil, fmt.Errorf("unpackMessage: %w: %v", ErrDecryptionFailed, err)
		}

		return nil, fmt.Errorf("unpackMessage: decrypt: %w", err)
	}

	if err := validatePlaintext(plaintext); err != nil {
		return nil, fmt.Errorf("unpackMessage: %w", err)
	}

	env := &transport.Envelope{
		Message: plaintext,
		ToKey:   base58.Encode(recipientKey),
	}

	if len(senderKey) > 0 {
		env.FromKey = base58.Encode(senderKey)
	}

	return env, nil
}

// plaintextHeader is the minimal plaintext structure every DIDComm message must
// carry.
type plaintextHeader struct {
	ID   string `json:"@id"`
	Type string `json:"@type"`
}

func validatePlaintext(message []byte) error {
	header := &plaintextHeader{}

	if err := json.Unmarshal(message, header); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrMalformedEnvelope, err)
	}

	if header.ID == "" {
		return fmt.Errorf("%w: missing @id", ErrMalformedEnvelope)
	}

	if header.Type == "" {
		return fmt.Errorf("%w: missing @type", ErrMalformedEnvelope)
	}

	return nil
}
