/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mockwallet provides a deterministic, non-cryptographic wallet for
// tests. The "ciphertext" is a JSON envelope carrying the recipient keys and a
// base64 payload, so tests can exercise the full pack/unpack path without real
// crypto.
package mockwallet

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"

	"github.com/aether-id/didcomm-engine/pkg/wallet"
)

// Wallet is a mock implementation of wallet.Wallet.
type Wallet struct {
	keys map[string]struct{}

	// ErrEncrypt and ErrDecrypt, when set, are returned by the respective calls.
	ErrEncrypt error
	ErrDecrypt error
}

type envelope struct {
	Recipients []string `json:"recipients"`
	Sender     string   `json:"sender,omitempty"`
	Payload    string   `json:"payload"`
}

// New returns a mock wallet holding the given base58-encoded verification keys.
func New(ownedKeys ...string) *Wallet {
	keys := make(map[string]struct{}, len(ownedKeys))

	for _, key := range ownedKeys {
		keys[key] = struct{}{}
	}

	return &Wallet{keys: keys}
}

// AddKey adds a base58-encoded key to the wallet.
func (w *Wallet) AddKey(key string) {
	w.keys[key] = struct{}{}
}

// Encrypt implements wallet.Wallet.
func (w *Wallet) Encrypt(payload []byte, recipientKeys [][]byte, senderKey []byte) ([]byte, error) {
	if w.ErrEncrypt != nil {
		return nil, w.ErrEncrypt
	}

	env := envelope{Payload: base64.StdEncoding.EncodeToString(payload)}

	for _, key := range recipientKeys {
		env.Recipients = append(env.Recipients, base58.Encode(key))
	}

	if len(senderKey) > 0 {
		env.Sender = base58.Encode(senderKey)
	}

	return json.Marshal(env)
}

// Decrypt implements wallet.Wallet.
func (w *Wallet) Decrypt(ciphertext []byte) ([]byte, []byte, []byte, error) {
	if w.ErrDecrypt != nil {
		return nil, nil, nil, w.ErrDecrypt
	}

	env := envelope{}
	if err := json.Unmarshal(ciphertext, &env); err != nil {
		return nil, nil, nil, fmt.Errorf("mock wallet: not an envelope: %w", err)
	}

	var recipientKey []byte

	for _, key := range env.Recipients {
		if _, ok := w.keys[key]; ok {
			recipientKey = base58.Decode(key)
			break
		}
	}

	if recipientKey == nil {
		return nil, nil, nil, wallet.ErrKeyNotFound
	}

	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("mock wallet: payload: %w", err)
	}

	var senderKey []byte
	if env.Sender != "" {
		senderKey = base58.Decode(env.Sender)
	}

	return payload, senderKey, recipientKey, nil
}

// Sign implements wallet.Wallet.
func (w *Wallet) Sign(message, signerKey []byte) ([]byte, error) {
	sum := sha256.Sum256(append(append([]byte{}, signerKey...), message...))

	return sum[:], nil
}

// Verify implements wallet.Wallet.
func (w *Wallet) Verify(message, signature, signerKey []byte) error {
	expected, err := w.Sign(message, signerKey)
	if err != nil {
		return err
	}

	if !bytesEqual(expected, signature) {
		return errors.New("mock wallet: signature mismatch")
	}

	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
