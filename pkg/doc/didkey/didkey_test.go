/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package didkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// test vector from https://w3c-ccg.github.io/did-method-key/#ed25519-x25519
const (
	vectorDID    = "did:key:z6MkpTHR8VNsBxYAAWHut2Geadd9jSwuBV8xRoAnwWsdvktH"
	vectorVerKey = "B12NYF8RrR3h41TDCTJojY59usg3mbtbjnFs7Eud1Y6u"
)

func TestDIDKey(t *testing.T) {
	t.Run("verkey to did:key", func(t *testing.T) {
		d, err := FromVerKey(vectorVerKey)
		require.NoError(t, err)
		require.Equal(t, vectorDID, d)
	})

	t.Run("did:key to verkey", func(t *testing.T) {
		k, err := ToVerKey(vectorDID)
		require.NoError(t, err)
		require.Equal(t, vectorVerKey, k)

		k, err = ToVerKey(vectorDID + "#z6MkpTHR8VNsBxYAAWHut2Geadd9jSwuBV8xRoAnwWsdvktH")
		require.NoError(t, err)
		require.Equal(t, vectorVerKey, k)
	})

	t.Run("normalize", func(t *testing.T) {
		keys, err := NormalizeAll([]string{vectorDID, vectorVerKey})
		require.NoError(t, err)
		require.Equal(t, []string{vectorVerKey, vectorVerKey}, keys)

		_, err = Normalize("")
		require.Error(t, err)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ToVerKey("did:sov:123")
		require.Error(t, err)

		_, err = ToVerKey("did:key:zzzz")
		require.Error(t, err)

		_, err = FromVerKey("")
		require.Error(t, err)
	})
}
