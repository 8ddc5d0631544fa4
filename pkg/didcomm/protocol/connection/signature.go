/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/didrelay/agent/pkg/doc/didkey"
	"github.com/didrelay/agent/pkg/kms"
)

const (
	signatureType   = "https://didcomm.org/signature/1.0/ed25519Sha512_single"
	timestampLength = 8
)

type signer interface {
	SignMessage(message []byte, verKey string) ([]byte, error)
}

// signConnection signs conn with verKey: the signed data is the 8 byte big endian unix time followed by the JSON
// of the connection.
func signConnection(s signer, conn *Connection, verKey string) (*ConnectionSignature, error) {
	connBytes, err := json.Marshal(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connection : %w", err)
	}

	data := make([]byte, timestampLength, timestampLength+len(connBytes))
	binary.BigEndian.PutUint64(data, uint64(time.Now().Unix()))
	data = append(data, connBytes...)

	signature, err := s.SignMessage(data, verKey)
	if err != nil {
		return nil, fmt.Errorf("signing data: %w", err)
	}

	return &ConnectionSignature{
		Type:       signatureType,
		SignedData: base64.URLEncoding.EncodeToString(data),
		SignVerKey: verKey,
		Signature:  base64.URLEncoding.EncodeToString(signature),
	}, nil
}

// verifyConnection checks that sig was made by invitationKey and returns the signed connection.
func verifyConnection(sig *ConnectionSignature, invitationKey string) (*Connection, error) {
	if sig == nil {
		return nil, errors.New("missing connection signature")
	}

	signer, err := didkey.Normalize(sig.SignVerKey)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	if signer != invitationKey {
		return nil, fmt.Errorf("%w: signer %s", ErrSignerMismatch, signer)
	}

	data, err := decodeBase64URL(sig.SignedData)
	if err != nil {
		return nil, fmt.Errorf("decode signature data: %w", err)
	}

	// trimming the timestamp, only the connection attribute bytes are left
	if len(data) <= timestampLength {
		return nil, errors.New("missing connection attribute bytes")
	}

	signature, err := decodeBase64URL(sig.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	if err = kms.VerifySignature(signer, signature, data); err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}

	conn := &Connection{}

	if err = json.Unmarshal(data[timestampLength:], conn); err != nil {
		return nil, fmt.Errorf("JSON unmarshalling of connection: %w", err)
	}

	return conn, nil
}

// decodeBase64URL accepts padded and unpadded base64url.
func decodeBase64URL(s string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}

	return base64.RawURLEncoding.DecodeString(s)
}
