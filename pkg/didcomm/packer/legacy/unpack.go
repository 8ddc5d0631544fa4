/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package legacy

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	chacha "golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"

	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/kms"
)

// UnpackMessage decrypts an Authcrypt or Anoncrypt envelope addressed to one of the keys held by the key manager.
func (p *Packer) UnpackMessage(encMessage []byte) (*transport.Envelope, error) {
	var env envelope

	if err := json.Unmarshal(encMessage, &env); err != nil {
		return nil, fmt.Errorf("unpack: invalid envelope: %w", err)
	}

	protectedBytes, err := base64.URLEncoding.DecodeString(env.Protected)
	if err != nil {
		return nil, fmt.Errorf("unpack: decode protected header: %w", err)
	}

	var prot protected

	if err = json.Unmarshal(protectedBytes, &prot); err != nil {
		return nil, fmt.Errorf("unpack: invalid protected header: %w", err)
	}

	if prot.Typ != encodingType {
		return nil, fmt.Errorf("unpack: message type %s not supported", prot.Typ)
	}

	if prot.Enc != encAlgorithm {
		return nil, fmt.Errorf("unpack: encryption algorithm %s not supported", prot.Enc)
	}

	if prot.Alg != algAuthcrypt && prot.Alg != algAnoncrypt {
		return nil, fmt.Errorf("unpack: message format %s not supported", prot.Alg)
	}

	for _, r := range prot.Recipients {
		recKP, e := p.keys.GetKeyPair(r.Header.KID)
		if errors.Is(e, kms.ErrKeyNotFound) {
			continue
		}

		if e != nil {
			return nil, fmt.Errorf("unpack: recipient key %s: %w", r.Header.KID, e)
		}

		cek, senderKey, e := p.openCEK(&r, recKP, prot.Alg == algAuthcrypt)
		if e != nil {
			return nil, fmt.Errorf("unpack: %w", e)
		}

		msg, e := decodeCipherText(cek, &env)
		if e != nil {
			return nil, fmt.Errorf("unpack: %w", e)
		}

		logger.Debugf("unpacked %s envelope for %s", prot.Alg, r.Header.KID)

		return &transport.Envelope{
			Message: msg,
			FromKey: senderKey,
			ToKey:   r.Header.KID,
		}, nil
	}

	return nil, ErrNoRecipientKey
}

// openCEK recovers the content encryption key and, for Authcrypt, the sender verkey.
func (p *Packer) openCEK(r *recipient, recKP *kms.KeyPair, auth bool) (*[chacha.KeySize]byte, string, error) {
	pk, err := publicEd25519toCurve25519(recKP.Pub)
	if err != nil {
		return nil, "", err
	}

	sk, err := secretEd25519toCurve25519(recKP.Priv)
	if err != nil {
		return nil, "", err
	}

	encCEK, err := base64.URLEncoding.DecodeString(r.EncryptedKey)
	if err != nil {
		return nil, "", err
	}

	var (
		cekSlice  []byte
		senderKey string
	)

	if auth {
		encSender, e := base64.URLEncoding.DecodeString(r.Header.Sender)
		if e != nil {
			return nil, "", e
		}

		senderBytes, e := sodiumBoxSealOpen(encSender, pk, sk)
		if e != nil {
			return nil, "", fmt.Errorf("open sender: %w", e)
		}

		senderKey = string(senderBytes)

		senderPK, e := publicEd25519toCurve25519(base58.Decode(senderKey))
		if e != nil {
			return nil, "", fmt.Errorf("sender key: %w", e)
		}

		nonceSlice, e := base64.URLEncoding.DecodeString(r.Header.IV)
		if e != nil {
			return nil, "", e
		}

		var nonce [boxNonceSize]byte

		copy(nonce[:], nonceSlice)

		var ok bool

		cekSlice, ok = box.Open(nil, encCEK, &nonce, senderPK, sk)
		if !ok {
			return nil, "", errors.New("failed to decrypt CEK")
		}
	} else {
		cekSlice, err = sodiumBoxSealOpen(encCEK, pk, sk)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decrypt CEK: %w", err)
		}
	}

	if len(cekSlice) != chacha.KeySize {
		return nil, "", errors.New("invalid CEK size")
	}

	var cek [chacha.KeySize]byte

	copy(cek[:], cekSlice)

	return &cek, senderKey, nil
}

// decodeCipherText decodes (from base64) and decrypts the ciphertext using chacha20poly1305.
func decodeCipherText(cek *[chacha.KeySize]byte, env *envelope) ([]byte, error) {
	cipherText, err := base64.URLEncoding.DecodeString(env.CipherText)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.URLEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, err
	}

	tag, err := base64.URLEncoding.DecodeString(env.Tag)
	if err != nil {
		return nil, err
	}

	chachaCipher, err := chacha.New(cek[:])
	if err != nil {
		return nil, err
	}

	if len(nonce) != chachaCipher.NonceSize() {
		return nil, errors.New("invalid iv size")
	}

	payload := append(cipherText, tag...)

	return chachaCipher.Open(nil, nonce, payload, []byte(env.Protected))
}
