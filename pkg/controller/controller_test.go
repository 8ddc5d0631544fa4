/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package controller

import (
	"net/http"
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/didrelay/agent/pkg/controller/internal/mocks/webhook"
	"github.com/didrelay/agent/pkg/controller/rest"
	"github.com/didrelay/agent/pkg/framework/agent"
	"github.com/didrelay/agent/pkg/framework/context"
)

func newContext(t *testing.T) *context.Provider {
	t.Helper()

	a, err := agent.New(agent.WithStoreProvider(mem.NewProvider()), agent.WithLabel("controller"))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, a.Close())
	})

	ctx, err := a.Context()
	require.NoError(t, err)

	return ctx
}

func find(handlers []rest.Handler, method, path string) rest.Handler {
	for _, h := range handlers {
		if h.Method() == method && h.Path() == path {
			return h
		}
	}

	return nil
}

func TestGetRESTHandlers(t *testing.T) {
	t.Run("default notifier", func(t *testing.T) {
		handlers, err := GetRESTHandlers(newContext(t), WithWebhookURLs("http://localhost:9999"))
		require.NoError(t, err)
		require.Len(t, handlers, 28)
		require.NotNil(t, find(handlers, http.MethodGet, WSPath))
		require.NotNil(t, find(handlers, http.MethodPost, "/connections/create-invitation"))
		require.NotNil(t, find(handlers, http.MethodPost, "/mediation/request"))
		require.NotNil(t, find(handlers, http.MethodPost, "/message/send-basic"))
	})

	t.Run("custom notifier", func(t *testing.T) {
		handlers, err := GetRESTHandlers(newContext(t), WithNotifier(webhook.NewMockWebhookNotifier()))
		require.NoError(t, err)
		require.Len(t, handlers, 27)
		require.Nil(t, find(handlers, http.MethodGet, WSPath))
	})

	t.Run("events already observed", func(t *testing.T) {
		ctx := newContext(t)

		_, err := GetRESTHandlers(ctx, WithNotifier(webhook.NewMockWebhookNotifier()))
		require.NoError(t, err)

		_, err = GetRESTHandlers(ctx, WithNotifier(webhook.NewMockWebhookNotifier()))
		require.NoError(t, err)
	})
}

func TestGetCommandHandlers(t *testing.T) {
	handlers, err := GetCommandHandlers(newContext(t))
	require.NoError(t, err)
	require.Len(t, handlers, 27)
}
