/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package webnotifier

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

const wsPath = "/ws"

func TestWSNotifier_Clients(t *testing.T) {
	n := NewWSNotifier(wsPath)
	url := startWSListener(t, n)

	requireClients(t, n, 0)

	first := dial(t, url)
	requireClients(t, n, 1)

	second := dial(t, url)
	requireClients(t, n, 2)

	require.NoError(t, first.Close(websocket.StatusNormalClosure, ""))
	requireClients(t, n, 1)

	require.NoError(t, second.Close(websocket.StatusInternalError, "broken"))
	requireClients(t, n, 0)
}

func TestWSNotifier_Notify(t *testing.T) {
	payloads := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}

	n := NewWSNotifier(wsPath)
	conn := dial(t, startWSListener(t, n))

	requireClients(t, n, 1)

	for _, payload := range payloads {
		require.NoError(t, n.Notify("events", []byte(payload)))
	}

	for _, payload := range payloads {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		msgType, data, err := conn.Read(ctx)

		cancel()
		require.NoError(t, err)
		require.Equal(t, websocket.MessageText, msgType)

		var topic topicMessage
		require.NoError(t, json.Unmarshal(data, &topic))
		require.Equal(t, "events", topic.Topic)
		require.JSONEq(t, payload, string(topic.Message))
	}

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.EqualError(t, n.Notify("", []byte(`{}`)), emptyTopicErrMsg)
	require.EqualError(t, n.Notify("events", nil), emptyMessageErrMsg)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(context.Background(), url, nil) //nolint:bodyclose
	require.NoError(t, err)

	return conn
}

func requireClients(t *testing.T, n *WSNotifier, expected int) {
	t.Helper()

	require.Eventually(t, func() bool {
		n.connsLock.RLock()
		defer n.connsLock.RUnlock()

		return len(n.conns) == expected
	}, time.Second, 20*time.Millisecond)
}

func startWSListener(t *testing.T, n *WSNotifier) string {
	t.Helper()

	handler := n.GetRESTHandlers()[0]

	router := mux.NewRouter()
	router.HandleFunc(handler.Path(), handler.Handle()).Methods(handler.Method())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return "ws://" + strings.TrimPrefix(srv.URL, "http://") + wsPath
}
