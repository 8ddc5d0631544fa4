/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package decorator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransport(t *testing.T) {
	trans := &Transport{}
	require.NoError(t, json.Unmarshal([]byte(`{"~transport":{"return_route":"all"}}`), trans))
	require.Equal(t, TransportReturnRouteAll, trans.ReturnRoute.Value)

	require.True(t, IsReturnRoute(TransportReturnRouteAll))
	require.True(t, IsReturnRoute(TransportReturnRouteThread))
	require.False(t, IsReturnRoute(TransportReturnRouteNone))
	require.False(t, IsReturnRoute(""))
}

func TestThread(t *testing.T) {
	raw, err := json.Marshal(&Thread{ID: "thid"})
	require.NoError(t, err)
	require.JSONEq(t, `{"thid":"thid"}`, string(raw))
}
