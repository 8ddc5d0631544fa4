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
	"golang.org/x/crypto/poly1305"

	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/doc/didkey"
	"github.com/didrelay/agent/pkg/kms"
)

// PackMessage encrypts envelope.Message for every key in envelope.ToKeys. The envelope is Authcrypt when
// envelope.FromKey is set and Anoncrypt otherwise.
func (p *Packer) PackMessage(env *transport.Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("envelope argument is nil")
	}

	if len(env.ToKeys) == 0 {
		return nil, errors.New("empty recipients keys, must have at least one recipient")
	}

	toKeys, err := didkey.NormalizeAll(env.ToKeys)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}

	var sender *kms.KeyPair

	if env.FromKey != "" {
		fromKey, e := didkey.Normalize(env.FromKey)
		if e != nil {
			return nil, fmt.Errorf("pack: %w", e)
		}

		kp, e := p.keys.GetKeyPair(fromKey)
		if e != nil {
			return nil, fmt.Errorf("pack: sender key %s: %w", env.FromKey, e)
		}

		sender = kp
	}

	nonce := make([]byte, chacha.NonceSize)
	if _, err = p.randSource.Read(nonce); err != nil {
		return nil, err
	}

	// cek (content encryption key) is a symmetric key for chacha20
	_, cek, err := box.GenerateKey(p.randSource)
	if err != nil {
		return nil, err
	}

	chachaCipher, err := chacha.New(cek[:])
	if err != nil {
		return nil, err
	}

	recipients, err := p.buildRecipients(cek, sender, toKeys)
	if err != nil {
		return nil, err
	}

	alg := algAnoncrypt
	if sender != nil {
		alg = algAuthcrypt
	}

	protectedBytes, err := json.Marshal(protected{
		Enc:        encAlgorithm,
		Typ:        encodingType,
		Alg:        alg,
		Recipients: recipients,
	})
	if err != nil {
		return nil, err
	}

	aad := base64.URLEncoding.EncodeToString(protectedBytes)

	symPld := chachaCipher.Seal(nil, nonce, env.Message, []byte(aad))

	// symPld has a length of len(pld) + poly1305.TagSize, the tag is its tail
	tag := symPld[len(symPld)-poly1305.TagSize:]
	cipherText := symPld[0 : len(symPld)-poly1305.TagSize]

	return json.Marshal(envelope{
		Protected:  aad,
		IV:         base64.URLEncoding.EncodeToString(nonce),
		CipherText: base64.URLEncoding.EncodeToString(cipherText),
		Tag:        base64.URLEncoding.EncodeToString(tag),
	})
}

func (p *Packer) buildRecipients(cek *[chacha.KeySize]byte, sender *kms.KeyPair, toKeys []string) ([]recipient, error) {
	encodedRecipients := make([]recipient, 0, len(toKeys))

	for _, recKey := range toKeys {
		recPub := base58.Decode(recKey)

		recPKCurve, err := publicEd25519toCurve25519(recPub)
		if err != nil {
			return nil, fmt.Errorf("recipient key %s: %w", recKey, err)
		}

		var r *recipient

		if sender == nil {
			r, err = p.buildAnonRecipient(cek, recKey, recPKCurve)
		} else {
			r, err = p.buildAuthRecipient(cek, sender, recKey, recPKCurve)
		}

		if err != nil {
			return nil, err
		}

		encodedRecipients = append(encodedRecipients, *r)
	}

	return encodedRecipients, nil
}

// buildAuthRecipient encrypts the CEK from the sender to the recipient and seals the sender's verkey.
func (p *Packer) buildAuthRecipient(cek *[chacha.KeySize]byte, sender *kms.KeyPair, recKey string,
	recPKCurve *[curveKeySize]byte) (*recipient, error) {
	var nonce [boxNonceSize]byte

	if _, err := p.randSource.Read(nonce[:]); err != nil {
		return nil, err
	}

	senderSKCurve, err := secretEd25519toCurve25519(sender.Priv)
	if err != nil {
		return nil, err
	}

	encCEK := box.Seal(nil, cek[:], &nonce, recPKCurve, senderSKCurve)

	encSender, err := sodiumBoxSeal([]byte(base58.Encode(sender.Pub)), recPKCurve, p.randSource)
	if err != nil {
		return nil, err
	}

	return &recipient{
		EncryptedKey: base64.URLEncoding.EncodeToString(encCEK),
		Header: recipientHeader{
			KID:    recKey,
			Sender: base64.URLEncoding.EncodeToString(encSender),
			IV:     base64.URLEncoding.EncodeToString(nonce[:]),
		},
	}, nil
}

// buildAnonRecipient seals the CEK for the recipient.
func (p *Packer) buildAnonRecipient(cek *[chacha.KeySize]byte, recKey string,
	recPKCurve *[curveKeySize]byte) (*recipient, error) {
	encCEK, err := sodiumBoxSeal(cek[:], recPKCurve, p.randSource)
	if err != nil {
		return nil, err
	}

	return &recipient{
		EncryptedKey: base64.URLEncoding.EncodeToString(encCEK),
		Header:       recipientHeader{KID: recKey},
	}, nil
}
