/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package legacy

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/doc/didkey"
	"github.com/didrelay/agent/pkg/kms"
)

func newKMS(t *testing.T) *kms.LocalKMS {
	t.Helper()

	k, err := kms.New(mem.NewProvider())
	require.NoError(t, err)

	return k
}

func createKey(t *testing.T, k *kms.LocalKMS) string {
	t.Helper()

	key, err := k.CreateKey()
	require.NoError(t, err)

	return key
}

func TestPacker_Authcrypt(t *testing.T) {
	senderKMS := newKMS(t)
	recipientKMS := newKMS(t)

	sender := createKey(t, senderKMS)
	rec1 := createKey(t, recipientKMS)
	rec2 := createKey(t, recipientKMS)

	packed, err := New(senderKMS).PackMessage(&transport.Envelope{
		Message: []byte(`{"@type":"test"}`),
		FromKey: sender,
		ToKeys:  []string{rec1, rec2},
	})
	require.NoError(t, err)

	prot := protectedHeader(t, packed)
	require.Equal(t, algAuthcrypt, prot.Alg)
	require.Equal(t, encAlgorithm, prot.Enc)
	require.Len(t, prot.Recipients, 2)
	require.Equal(t, rec1, prot.Recipients[0].Header.KID)
	require.NotEmpty(t, prot.Recipients[0].Header.Sender)

	env, err := New(recipientKMS).UnpackMessage(packed)
	require.NoError(t, err)
	require.Equal(t, `{"@type":"test"}`, string(env.Message))
	require.Equal(t, sender, env.FromKey)
	require.Equal(t, rec1, env.ToKey)
}

func TestPacker_Anoncrypt(t *testing.T) {
	recipientKMS := newKMS(t)
	rec := createKey(t, recipientKMS)

	recDIDKey, err := didkey.FromVerKey(rec)
	require.NoError(t, err)

	packed, err := New(newKMS(t)).PackMessage(&transport.Envelope{
		Message: []byte("hello"),
		ToKeys:  []string{recDIDKey},
	})
	require.NoError(t, err)

	prot := protectedHeader(t, packed)
	require.Equal(t, algAnoncrypt, prot.Alg)
	require.Empty(t, prot.Recipients[0].Header.Sender)
	require.Empty(t, prot.Recipients[0].Header.IV)
	require.Equal(t, rec, prot.Recipients[0].Header.KID)

	env, err := New(recipientKMS).UnpackMessage(packed)
	require.NoError(t, err)
	require.Equal(t, "hello", string(env.Message))
	require.Empty(t, env.FromKey)
	require.Equal(t, rec, env.ToKey)
}

func TestPacker_Unpack_SecondRecipient(t *testing.T) {
	other := newKMS(t)
	mine := newKMS(t)

	rec1 := createKey(t, other)
	rec2 := createKey(t, mine)

	packed, err := New(other).PackMessage(&transport.Envelope{Message: []byte("m"), ToKeys: []string{rec1, rec2}})
	require.NoError(t, err)

	env, err := New(mine).UnpackMessage(packed)
	require.NoError(t, err)
	require.Equal(t, rec2, env.ToKey)
}

func TestPacker_Errors(t *testing.T) {
	k := newKMS(t)
	rec := createKey(t, k)
	p := New(k)

	t.Run("nil envelope", func(t *testing.T) {
		_, err := p.PackMessage(nil)
		require.Error(t, err)
	})

	t.Run("no recipients", func(t *testing.T) {
		_, err := p.PackMessage(&transport.Envelope{Message: []byte("m")})
		require.Error(t, err)
	})

	t.Run("unknown sender", func(t *testing.T) {
		_, err := p.PackMessage(&transport.Envelope{Message: []byte("m"), FromKey: rec + "x", ToKeys: []string{rec}})
		require.True(t, errors.Is(err, kms.ErrKeyNotFound))
	})

	t.Run("invalid recipient key", func(t *testing.T) {
		_, err := p.PackMessage(&transport.Envelope{Message: []byte("m"), ToKeys: []string{"abc"}})
		require.Error(t, err)
	})

	t.Run("no accessible recipient", func(t *testing.T) {
		packed, err := p.PackMessage(&transport.Envelope{Message: []byte("m"), ToKeys: []string{rec}})
		require.NoError(t, err)

		_, err = New(newKMS(t)).UnpackMessage(packed)
		require.True(t, errors.Is(err, ErrNoRecipientKey))
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := p.UnpackMessage([]byte("{"))
		require.Error(t, err)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		packed, err := p.PackMessage(&transport.Envelope{Message: []byte("message"), FromKey: rec, ToKeys: []string{rec}})
		require.NoError(t, err)

		var env envelope
		require.NoError(t, json.Unmarshal(packed, &env))

		ct, err := base64.URLEncoding.DecodeString(env.CipherText)
		require.NoError(t, err)

		ct[0] ^= 0xff
		env.CipherText = base64.URLEncoding.EncodeToString(ct)

		tampered, err := json.Marshal(env)
		require.NoError(t, err)

		_, err = p.UnpackMessage(tampered)
		require.Error(t, err)
	})

	t.Run("unsupported typ", func(t *testing.T) {
		hdr, err := json.Marshal(protected{Typ: "other", Enc: encAlgorithm, Alg: algAuthcrypt})
		require.NoError(t, err)

		raw, err := json.Marshal(envelope{Protected: base64.URLEncoding.EncodeToString(hdr)})
		require.NoError(t, err)

		_, err = p.UnpackMessage(raw)
		require.Error(t, err)
		require.Contains(t, err.Error(), "not supported")
	})
}

func protectedHeader(t *testing.T, packed []byte) protected {
	t.Helper()

	var env envelope
	require.NoError(t, json.Unmarshal(packed, &env))

	raw, err := base64.URLEncoding.DecodeString(env.Protected)
	require.NoError(t, err)

	var prot protected
	require.NoError(t, json.Unmarshal(raw, &prot))

	return prot
}
