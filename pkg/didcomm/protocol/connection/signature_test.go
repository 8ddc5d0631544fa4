/*
Copyright Avast Software. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package connection

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/agent/pkg/doc/did"
	"github.com/didrelay/agent/pkg/doc/didkey"
	"github.com/didrelay/agent/pkg/kms"
)

type failingSigner struct{}

func (failingSigner) SignMessage([]byte, string) ([]byte, error) {
	return nil, errors.New("locked")
}

func signedConnection(t *testing.T) (*kms.LocalKMS, string, *Connection, *ConnectionSignature) {
	t.Helper()

	km, err := kms.New(mem.NewProvider())
	require.NoError(t, err)

	verKey, err := km.CreateKey()
	require.NoError(t, err)

	myDID, err := did.CreateDID(verKey)
	require.NoError(t, err)

	conn := &Connection{
		DID: myDID,
		DIDDoc: did.BuildDoc(myDID, verKey,
			did.WithService(did.NewDIDCommService(myDID, aliceEndpoint, []string{verKey}, nil))),
	}

	sig, err := signConnection(km, conn, verKey)
	require.NoError(t, err)

	return km, verKey, conn, sig
}

func TestSignConnection(t *testing.T) {
	_, verKey, _, sig := signedConnection(t)

	require.Equal(t, signatureType, sig.Type)
	require.Equal(t, verKey, sig.SignVerKey)

	data, err := base64.URLEncoding.DecodeString(sig.SignedData)
	require.NoError(t, err)
	require.InDelta(t, time.Now().Unix(), int64(binary.BigEndian.Uint64(data[:timestampLength])), 5)

	t.Run("signer fails", func(t *testing.T) {
		_, err := signConnection(failingSigner{}, &Connection{DID: "did"}, verKey)
		require.Error(t, err)
		require.Contains(t, err.Error(), "locked")
	})
}

func TestVerifyConnection(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		_, verKey, conn, sig := signedConnection(t)

		got, err := verifyConnection(sig, verKey)
		require.NoError(t, err)
		require.Equal(t, conn.DID, got.DID)
		require.Equal(t, conn.DIDDoc.ID, got.DIDDoc.ID)
	})

	t.Run("did:key signer", func(t *testing.T) {
		_, verKey, _, sig := signedConnection(t)

		signer, err := didkey.FromVerKey(verKey)
		require.NoError(t, err)

		sig.SignVerKey = signer

		_, err = verifyConnection(sig, verKey)
		require.NoError(t, err)
	})

	t.Run("unpadded encoding", func(t *testing.T) {
		_, verKey, _, sig := signedConnection(t)

		data, err := base64.URLEncoding.DecodeString(sig.SignedData)
		require.NoError(t, err)

		sig.SignedData = base64.RawURLEncoding.EncodeToString(data)

		_, err = verifyConnection(sig, verKey)
		require.NoError(t, err)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := verifyConnection(nil, "key")
		require.Error(t, err)
	})

	t.Run("signer is not the invitation key", func(t *testing.T) {
		km, _, _, sig := signedConnection(t)

		invitationKey, err := km.CreateKey()
		require.NoError(t, err)

		_, err = verifyConnection(sig, invitationKey)
		require.ErrorIs(t, err, ErrSignerMismatch)
	})

	t.Run("signature over other data", func(t *testing.T) {
		km, verKey, _, sig := signedConnection(t)

		other, err := signConnection(km, &Connection{DID: "other"}, verKey)
		require.NoError(t, err)

		sig.Signature = other.Signature

		_, err = verifyConnection(sig, verKey)
		require.ErrorIs(t, err, kms.ErrInvalidSignature)
	})

	t.Run("no connection bytes", func(t *testing.T) {
		_, verKey, _, sig := signedConnection(t)

		sig.SignedData = base64.URLEncoding.EncodeToString(make([]byte, timestampLength))

		_, err := verifyConnection(sig, verKey)
		require.Error(t, err)
		require.Contains(t, err.Error(), "missing connection attribute bytes")
	})

	t.Run("signed data not base64", func(t *testing.T) {
		_, verKey, _, sig := signedConnection(t)

		sig.SignedData = "!!"

		_, err := verifyConnection(sig, verKey)
		require.Error(t, err)
		require.Contains(t, err.Error(), "decode signature data")
	})
}
