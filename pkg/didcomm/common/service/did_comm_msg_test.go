/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDIDCommMsgMap_ID(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		msg      DIDCommMsgMap
	}{
		{
			name: "Empty (nil msg)",
		},
		{
			name: "Empty",
			msg:  DIDCommMsgMap{},
		},
		{
			name: "Bad type ID",
			msg:  DIDCommMsgMap{jsonID: map[int]int{}},
		},
		{
			name:     "Success",
			msg:      DIDCommMsgMap{jsonID: "ID"},
			expected: "ID",
		},
	}

	for i := range tests {
		tc := tests[i]
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.msg.ID())
		})
	}
}

func TestDIDCommMsgMap_Type(t *testing.T) {
	require.Equal(t, "", DIDCommMsgMap(nil).Type())
	require.Equal(t, "https://didcomm.org/connections/1.0/request",
		DIDCommMsgMap{jsonType: "https://didcomm.org/connections/1.0/request"}.Type())
	require.Equal(t, "https://didcomm.org/connections/1.0/request",
		DIDCommMsgMap{jsonType: "did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/connections/1.0/request"}.Type())
}

func TestDIDCommMsgMap_ThreadID(t *testing.T) {
	t.Run("thread decorator", func(t *testing.T) {
		thid, err := DIDCommMsgMap{jsonID: "id", jsonThread: map[string]interface{}{jsonThreadID: "thid"}}.ThreadID()
		require.NoError(t, err)
		require.Equal(t, "thid", thid)
	})

	t.Run("falls back to id", func(t *testing.T) {
		thid, err := DIDCommMsgMap{jsonID: "id"}.ThreadID()
		require.NoError(t, err)
		require.Equal(t, "id", thid)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := DIDCommMsgMap{}.ThreadID()
		require.ErrorIs(t, err, ErrThreadIDNotFound)

		_, err = DIDCommMsgMap(nil).ThreadID()
		require.ErrorIs(t, err, ErrThreadIDNotFound)
	})

	t.Run("parent thread", func(t *testing.T) {
		msg := DIDCommMsgMap{jsonThread: map[string]interface{}{jsonParentThreadID: "pthid"}}
		require.Equal(t, "pthid", msg.ParentThreadID())
		require.Equal(t, "", DIDCommMsgMap{}.ParentThreadID())
	})
}

func TestDIDCommMsgMap_ReturnRoute(t *testing.T) {
	msg := DIDCommMsgMap{}
	require.Equal(t, "", msg.ReturnRoute())

	msg.SetReturnRoute("all")
	require.Equal(t, "all", msg.ReturnRoute())
}

func TestParseDIDCommMsgMap(t *testing.T) {
	msg, err := ParseDIDCommMsgMap([]byte(`{"@id":"1","@type":"https://didcomm.org/trust_ping/1.0/ping"}`))
	require.NoError(t, err)
	require.Equal(t, "1", msg.ID())

	_, err = ParseDIDCommMsgMap([]byte(`[]`))
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = ParseDIDCommMsgMap([]byte(`{"@id":"1"}`))
	require.ErrorIs(t, err, ErrInvalidMessage)
}

type decodeTarget struct {
	Type    string          `json:"@type,omitempty"`
	ID      string          `json:"@id,omitempty"`
	Count   int             `json:"count,omitempty"`
	Time    time.Time       `json:"time,omitempty"`
	Payload []byte          `json:"payload,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
	Nested  *struct {
		Value string `json:"value"`
	} `json:"nested,omitempty"`
}

func TestDIDCommMsgMap_Decode(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	in := &decodeTarget{
		Type:    "type",
		ID:      "id",
		Count:   3,
		Time:    now,
		Payload: []byte("payload"),
		Raw:     json.RawMessage(`{"ciphertext":"abc"}`),
		Nested: &struct {
			Value string `json:"value"`
		}{Value: "v"},
	}

	msg, err := NewDIDCommMsgMap(in)
	require.NoError(t, err)

	out := &decodeTarget{}
	require.NoError(t, msg.Decode(out))
	require.Equal(t, in.Type, out.Type)
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, in.Count, out.Count)
	require.True(t, in.Time.Equal(out.Time))
	require.Equal(t, in.Payload, out.Payload)
	require.JSONEq(t, string(in.Raw), string(out.Raw))
	require.Equal(t, "v", out.Nested.Value)
}
