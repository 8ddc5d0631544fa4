/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package legacy packs and unpacks DIDComm V1 envelopes as defined by Aries RFC 0019 (Authcrypt and Anoncrypt
// over chacha20poly1305_ietf).
package legacy

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"

	"github.com/agl/ed25519/extra25519"
	"github.com/hyperledger/aries-framework-go/component/log"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"

	"github.com/didrelay/agent/pkg/kms"
)

var logger = log.New("didrelay/packer")

const (
	encodingType = "JWM/1.0"
	encAlgorithm = "chacha20poly1305_ietf"
	algAuthcrypt = "Authcrypt"
	algAnoncrypt = "Anoncrypt"

	// curveKeySize is the size of public and private Curve25519 keys in bytes.
	curveKeySize = 32
	boxNonceSize = 24
)

// ErrNoRecipientKey is returned when none of the envelope's recipients is held by the key manager.
var ErrNoRecipientKey = errors.New("no recipient key accessible")

// KeyGetter gives access to the agent's key pairs.
type KeyGetter interface {
	GetKeyPair(verKey string) (*kms.KeyPair, error)
}

// Packer represents an Authcrypt/Anoncrypt Packer that outputs/reads legacy Aries envelopes.
type Packer struct {
	keys       KeyGetter
	randSource io.Reader
}

// New returns a Packer using keys to look up sender and recipient key pairs.
func New(keys KeyGetter) *Packer {
	return &Packer{keys: keys, randSource: rand.Reader}
}

// envelope is the full payload envelope for the JSON message.
type envelope struct {
	Protected  string `json:"protected,omitempty"`
	IV         string `json:"iv,omitempty"`
	CipherText string `json:"ciphertext,omitempty"`
	Tag        string `json:"tag,omitempty"`
}

// protected is the protected header of the JSON envelope.
type protected struct {
	Enc        string      `json:"enc,omitempty"`
	Typ        string      `json:"typ,omitempty"`
	Alg        string      `json:"alg,omitempty"`
	Recipients []recipient `json:"recipients,omitempty"`
}

// recipient holds the data for a recipient in the envelope header.
type recipient struct {
	EncryptedKey string          `json:"encrypted_key,omitempty"`
	Header       recipientHeader `json:"header,omitempty"`
}

// recipientHeader holds the header data for a recipient. Sender and IV are absent for Anoncrypt.
type recipientHeader struct {
	KID    string `json:"kid,omitempty"`
	Sender string `json:"sender,omitempty"`
	IV     string `json:"iv,omitempty"`
}

// publicEd25519toCurve25519 takes an Ed25519 public key and provides the corresponding Curve25519 public key.
func publicEd25519toCurve25519(pub []byte) (*[curveKeySize]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, errors.New("public key has invalid size")
	}

	var edPub [ed25519.PublicKeySize]byte

	copy(edPub[:], pub)

	pkOut := new([curveKeySize]byte)

	if !extra25519.PublicKeyToCurve25519(pkOut, &edPub) {
		return nil, errors.New("failed to convert public key")
	}

	return pkOut, nil
}

// secretEd25519toCurve25519 converts a secret key from Ed25519 to curve25519 format.
func secretEd25519toCurve25519(priv []byte) (*[curveKeySize]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("private key has invalid size")
	}

	var edPriv [ed25519.PrivateKeySize]byte

	copy(edPriv[:], priv)

	skOut := new([curveKeySize]byte)
	extra25519.PrivateKeyToCurve25519(skOut, &edPriv)

	return skOut, nil
}

// makeNonce generates a nonce equivalent to libsodium's crypto_box_seal nonce.
func makeNonce(pub1, pub2 []byte) (*[boxNonceSize]byte, error) {
	nonceWriter, err := blake2b.New(boxNonceSize, nil)
	if err != nil {
		return nil, err
	}

	if _, err = nonceWriter.Write(pub1); err != nil {
		return nil, err
	}

	if _, err = nonceWriter.Write(pub2); err != nil {
		return nil, err
	}

	var nonce [boxNonceSize]byte

	copy(nonce[:], nonceWriter.Sum(nil))

	return &nonce, nil
}

// sodiumBoxSeal encrypts msg for recPub with an ephemeral key, equivalent to libsodium's crypto_box_seal().
func sodiumBoxSeal(msg []byte, recPub *[curveKeySize]byte, randSource io.Reader) ([]byte, error) {
	epk, esk, err := box.GenerateKey(randSource)
	if err != nil {
		return nil, err
	}

	nonce, err := makeNonce(epk[:], recPub[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(epk))
	copy(out, epk[:])

	return box.Seal(out, msg, nonce, recPub, esk), nil
}

// sodiumBoxSealOpen opens a box sealed by sodiumBoxSeal.
func sodiumBoxSealOpen(msg []byte, recPub, recPriv *[curveKeySize]byte) ([]byte, error) {
	if len(msg) < curveKeySize {
		return nil, errors.New("message too short")
	}

	var epk [curveKeySize]byte

	copy(epk[:], msg[:curveKeySize])

	nonce, err := makeNonce(epk[:], recPub[:])
	if err != nil {
		return nil, err
	}

	out, ok := box.Open(nil, msg[curveKeySize:], nonce, &epk, recPriv)
	if !ok {
		return nil, errors.New("failed to open sealed box")
	}

	return out, nil
}
