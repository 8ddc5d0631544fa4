/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package did

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	verKey = "B12NYF8RrR3h41TDCTJojY59usg3mbtbjnFs7Eud1Y6u"
	didKey = "did:key:z6MkpTHR8VNsBxYAAWHut2Geadd9jSwuBV8xRoAnwWsdvktH"
)

func TestBuildDoc(t *testing.T) {
	did, err := CreateDID(verKey)
	require.NoError(t, err)
	require.NotEmpty(t, did)

	doc := BuildDoc(did, verKey, WithService(NewDIDCommService(did, "http://example.com", []string{verKey}, nil)))

	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	parsed, err := ParseDocument(raw)
	require.NoError(t, err)
	require.Equal(t, did, parsed.ID)

	svc, err := parsed.DIDCommService()
	require.NoError(t, err)
	require.Equal(t, "http://example.com", svc.ServiceEndpoint)
	require.Equal(t, []string{verKey}, svc.RecipientKeys)

	k, err := parsed.VerKey()
	require.NoError(t, err)
	require.Equal(t, verKey, k)
}

func TestDIDCommService(t *testing.T) {
	t.Run("normalizes did:key", func(t *testing.T) {
		doc := &Doc{ID: "abc", Service: []Service{
			{ID: "other", Type: "LinkedDomains", ServiceEndpoint: "https://x"},
			{ID: "svc", Type: DIDCommServiceType, RecipientKeys: []string{didKey}, RoutingKeys: []string{didKey},
				ServiceEndpoint: "ws://mediator"},
		}}

		svc, err := doc.DIDCommService()
		require.NoError(t, err)
		require.Equal(t, "svc", svc.ID)
		require.Equal(t, []string{verKey}, svc.RecipientKeys)
		require.Equal(t, []string{verKey}, svc.RoutingKeys)
		require.Equal(t, didKey, doc.Service[1].RecipientKeys[0])
	})

	t.Run("no compatible service", func(t *testing.T) {
		doc := &Doc{ID: "abc", Service: []Service{{ID: "svc", Type: IndyAgentServiceType}}}

		_, err := doc.DIDCommService()
		require.ErrorIs(t, err, ErrNoDIDCommService)

		_, err = doc.VerKey()
		require.Error(t, err)
	})
}

func TestParseDocumentErrors(t *testing.T) {
	_, err := ParseDocument([]byte("{"))
	require.Error(t, err)

	_, err = ParseDocument([]byte(`{"publicKey":[]}`))
	require.Error(t, err)

	_, err = CreateDID("short")
	require.Error(t, err)
}
