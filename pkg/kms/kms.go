/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package kms manages the agent's ed25519 key pairs. Keys are addressed by their base58 encoded public key
// (verkey) and kept in a storage.Store.
package kms

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcutil/base58"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"
)

// Namespace is the store name used by the key manager.
const Namespace = "kms"

var logger = log.New("didrelay/kms")

// ErrKeyNotFound is returned when the requested verkey is not held by the key manager.
var ErrKeyNotFound = errors.New("key not found")

// ErrInvalidSignature is returned when a signature does not verify against the given verkey.
var ErrInvalidSignature = errors.New("invalid signature")

// KeyPair is an ed25519 key pair.
type KeyPair struct {
	Pub  []byte `json:"pub"`
	Priv []byte `json:"priv"`
}

// KeyManager manages the agent's signing/encryption keys.
type KeyManager interface {
	// CreateKey creates a new key pair and returns its verkey.
	CreateKey() (string, error)
	// GetKeyPair returns the key pair of verKey.
	GetKeyPair(verKey string) (*KeyPair, error)
	// SignMessage signs message with the private key of verKey.
	SignMessage(message []byte, verKey string) ([]byte, error)
}

// LocalKMS is a KeyManager backed by a storage provider.
type LocalKMS struct {
	store      storage.Store
	randSource io.Reader
}

// New returns a LocalKMS storing keys in the given provider.
func New(p storage.Provider) (*LocalKMS, error) {
	store, err := p.OpenStore(Namespace)
	if err != nil {
		return nil, fmt.Errorf("open kms store: %w", err)
	}

	return &LocalKMS{store: store, randSource: rand.Reader}, nil
}

// CreateKey creates a new ed25519 key pair and returns its base58 verkey.
func (k *LocalKMS) CreateKey() (string, error) {
	pub, priv, err := ed25519.GenerateKey(k.randSource)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}

	verKey := base58.Encode(pub)

	kp, err := json.Marshal(&KeyPair{Pub: pub, Priv: priv})
	if err != nil {
		return "", fmt.Errorf("marshal key pair: %w", err)
	}

	if err := k.store.Put(verKey, kp); err != nil {
		return "", fmt.Errorf("save key pair: %w", err)
	}

	logger.Debugf("created key %s", verKey)

	return verKey, nil
}

// GetKeyPair returns the key pair for verKey or ErrKeyNotFound.
func (k *LocalKMS) GetKeyPair(verKey string) (*KeyPair, error) {
	if verKey == "" {
		return nil, ErrKeyNotFound
	}

	raw, err := k.store.Get(verKey)
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			return nil, ErrKeyNotFound
		}

		return nil, fmt.Errorf("get key pair: %w", err)
	}

	kp := &KeyPair{}
	if err := json.Unmarshal(raw, kp); err != nil {
		return nil, fmt.Errorf("unmarshal key pair: %w", err)
	}

	return kp, nil
}

// SignMessage signs message with the private key of verKey.
func (k *LocalKMS) SignMessage(message []byte, verKey string) ([]byte, error) {
	kp, err := k.GetKeyPair(verKey)
	if err != nil {
		return nil, err
	}

	if len(kp.Priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key %s: invalid private key size %d", verKey, len(kp.Priv))
	}

	return ed25519.Sign(kp.Priv, message), nil
}

// VerifySignature checks signature over data with the base58 encoded ed25519 verKey.
func VerifySignature(verKey string, signature, data []byte) error {
	pub := base58.Decode(verKey)
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("verkey %q: invalid public key size %d", verKey, len(pub))
	}

	if !ed25519.Verify(pub, data, signature) {
		return ErrInvalidSignature
	}

	return nil
}
