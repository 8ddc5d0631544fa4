/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/didrelay/agent/pkg/didcomm/dispatcher/inbound"
	"github.com/didrelay/agent/pkg/didcomm/transport"
	"github.com/didrelay/agent/pkg/didcomm/transport/session"
	mocktransport "github.com/didrelay/agent/pkg/mock/didcomm/transport"
)

func newProvider(handler transport.InboundMessageHandler) (*mocktransport.Provider, *session.Registry) {
	registry := session.NewRegistry()

	return &mocktransport.Provider{Handler: handler, Registry: registry}, registry
}

func post(t *testing.T, url, contentType string, body []byte) (int, []byte) {
	t.Helper()

	resp, err := http.Post(url, contentType, bytes.NewReader(body)) //nolint:noctx
	require.NoError(t, err)

	defer func() {
		require.NoError(t, resp.Body.Close())
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func TestInboundHandler(t *testing.T) {
	t.Run("nil provider", func(t *testing.T) {
		_, err := NewInboundHandler(nil)
		require.Error(t, err)

		_, err = NewInboundHandler(&mocktransport.Provider{})
		require.Error(t, err)
	})

	t.Run("accepted without reply", func(t *testing.T) {
		received := make(chan []byte, 1)

		prov, registry := newProvider(func(_ context.Context, envelope []byte, s transport.Session) error {
			require.Equal(t, SessionType, s.Type())
			require.True(t, s.IsOpen())
			received <- envelope

			return nil
		})

		handler, err := NewInboundHandler(prov)
		require.NoError(t, err)

		server := httptest.NewServer(handler)
		defer server.Close()

		status, _ := post(t, server.URL, transport.MediaTypeSSIAgentWire, []byte("envelope"))
		require.Equal(t, http.StatusAccepted, status)
		require.Equal(t, []byte("envelope"), <-received)
		require.Zero(t, registry.Len())
	})

	t.Run("reply in response", func(t *testing.T) {
		var kept transport.Session

		prov, _ := newProvider(func(ctx context.Context, envelope []byte, s transport.Session) error {
			kept = s

			require.NoError(t, s.Send(ctx, append([]byte("reply to "), envelope...)))
			require.False(t, s.IsOpen())
			require.ErrorIs(t, s.Send(ctx, []byte("second")), transport.ErrSessionClosed)

			return nil
		})

		handler, err := NewInboundHandler(prov)
		require.NoError(t, err)

		server := httptest.NewServer(handler)
		defer server.Close()

		status, body := post(t, server.URL, transport.MediaTypeV1EncryptedEnvelope, []byte("ping"))
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "reply to ping", string(body))
		require.False(t, kept.IsOpen())
	})

	t.Run("session closes with the request", func(t *testing.T) {
		var kept transport.Session

		prov, _ := newProvider(func(_ context.Context, _ []byte, s transport.Session) error {
			kept = s

			return nil
		})

		handler, err := NewInboundHandler(prov)
		require.NoError(t, err)

		server := httptest.NewServer(handler)
		defer server.Close()

		status, _ := post(t, server.URL, transport.MediaTypeSSIAgentWire, []byte("x"))
		require.Equal(t, http.StatusAccepted, status)
		require.ErrorIs(t, kept.Send(context.Background(), []byte("late")), transport.ErrSessionClosed)
	})

	t.Run("handler errors", func(t *testing.T) {
		tests := []struct {
			err    error
			status int
		}{
			{err: fmt.Errorf("unpack: %w", inbound.ErrRejected), status: http.StatusBadRequest},
			{err: errors.New("storage down"), status: http.StatusInternalServerError},
		}

		for _, tc := range tests {
			prov, _ := newProvider(func(context.Context, []byte, transport.Session) error {
				return tc.err
			})

			handler, err := NewInboundHandler(prov)
			require.NoError(t, err)

			server := httptest.NewServer(handler)

			status, _ := post(t, server.URL, transport.MediaTypeSSIAgentWire, []byte("x"))
			require.Equal(t, tc.status, status)

			server.Close()
		}
	})

	t.Run("invalid requests", func(t *testing.T) {
		prov, _ := newProvider(func(context.Context, []byte, transport.Session) error {
			t.Error("handler must not be called")

			return nil
		})

		handler, err := NewInboundHandler(prov)
		require.NoError(t, err)

		server := httptest.NewServer(handler)
		defer server.Close()

		status, _ := post(t, server.URL, "application/json", []byte("x"))
		require.Equal(t, http.StatusUnsupportedMediaType, status)

		status, _ = post(t, server.URL, transport.MediaTypeSSIAgentWire, nil)
		require.Equal(t, http.StatusBadRequest, status)

		resp, err := http.Get(server.URL) //nolint:noctx
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestInbound(t *testing.T) {
	_, err := NewInbound("", "", "", "")
	require.Error(t, err)

	in, err := NewInbound("localhost:8080", "", "", "")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", in.Endpoint())

	in, err = NewInbound("localhost:8443", "", "cert.pem", "key.pem")
	require.NoError(t, err)
	require.Equal(t, "https://localhost:8443", in.Endpoint())

	in, err = NewInbound("localhost:0", "http://agent.example.com", "", "")
	require.NoError(t, err)
	require.Equal(t, "http://agent.example.com", in.Endpoint())

	require.Error(t, in.Start(&mocktransport.Provider{}))

	received := make(chan []byte, 1)
	prov, _ := newProvider(func(_ context.Context, envelope []byte, _ transport.Session) error {
		received <- envelope

		return nil
	})

	in, err = NewInbound("localhost:0", "", "", "")
	require.NoError(t, err)
	require.NoError(t, in.Start(prov))

	defer func() {
		require.NoError(t, in.Stop())
	}()

	out, err := NewOutbound()
	require.NoError(t, err)

	reply, err := out.Send(context.Background(), []byte("hello"), "http://"+in.Addr())
	require.NoError(t, err)
	require.Nil(t, reply)
	require.Equal(t, []byte("hello"), <-received)
}

func TestSessionCarriesOneReply(t *testing.T) {
	require.False(t, transport.IsDuplex(newHTTPSession()))
}
