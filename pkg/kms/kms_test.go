/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package kms

import (
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"
)

func TestLocalKMS(t *testing.T) {
	k, err := New(mem.NewProvider())
	require.NoError(t, err)

	t.Run("create, sign and verify", func(t *testing.T) {
		verKey, err := k.CreateKey()
		require.NoError(t, err)
		require.NotEmpty(t, verKey)

		kp, err := k.GetKeyPair(verKey)
		require.NoError(t, err)
		require.Len(t, kp.Pub, 32)
		require.Len(t, kp.Priv, 64)

		sig, err := k.SignMessage([]byte("hello"), verKey)
		require.NoError(t, err)
		require.NoError(t, VerifySignature(verKey, sig, []byte("hello")))
		require.ErrorIs(t, VerifySignature(verKey, sig, []byte("tampered")), ErrInvalidSignature)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := k.GetKeyPair("unknown")
		require.ErrorIs(t, err, ErrKeyNotFound)

		_, err = k.SignMessage([]byte("x"), "")
		require.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("malformed verkey", func(t *testing.T) {
		require.Error(t, VerifySignature("abc", []byte("sig"), []byte("data")))
	})
}
