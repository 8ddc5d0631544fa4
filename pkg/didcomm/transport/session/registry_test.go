/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/didrelay/agent/pkg/didcomm/protocol/decorator"
	mocktransport "github.com/didrelay/agent/pkg/mock/didcomm/transport"
)

func TestRegistry(t *testing.T) {
	t.Run("save, bind and find", func(t *testing.T) {
		r := NewRegistry()
		s := mocktransport.NewMockSession()

		r.SaveSession(s, decorator.TransportReturnRouteAll)
		r.BindConnection(s.ID(), "conn-1")

		e, ok := r.FindSession("conn-1")
		require.True(t, ok)
		require.Equal(t, s.ID(), e.Session.ID())
		require.Equal(t, "conn-1", e.ConnectionID)
		require.True(t, e.CanReply())
		require.Equal(t, 1, r.Len())
	})

	t.Run("empty return route keeps previous value", func(t *testing.T) {
		r := NewRegistry()
		s := mocktransport.NewMockSession()

		r.SaveSession(s, decorator.TransportReturnRouteThread)
		r.BindConnection(s.ID(), "conn-1")
		r.SaveSession(s, "")

		e, ok := r.FindSession("conn-1")
		require.True(t, ok)
		require.Equal(t, decorator.TransportReturnRouteThread, e.ReturnRoute)
		require.Equal(t, 1, r.Len())

		r.SaveSession(s, decorator.TransportReturnRouteNone)
		e, _ = r.FindSession("conn-1")
		require.False(t, e.CanReply())
	})

	t.Run("bind unknown session is ignored", func(t *testing.T) {
		r := NewRegistry()
		r.BindConnection("unknown", "conn-1")

		_, ok := r.FindSession("conn-1")
		require.False(t, ok)
	})

	t.Run("closed sessions are purged on lookup", func(t *testing.T) {
		r := NewRegistry()
		s := mocktransport.NewMockSession()

		r.SaveSession(s, decorator.TransportReturnRouteAll)
		r.BindConnection(s.ID(), "conn-1")
		s.Close()

		_, ok := r.FindSession("conn-1")
		require.False(t, ok)
		require.Equal(t, 0, r.Len())
	})

	t.Run("latest session wins and removing the old one keeps the new binding", func(t *testing.T) {
		r := NewRegistry()
		s1 := mocktransport.NewMockSession()
		s2 := mocktransport.NewMockSession()

		r.SaveSession(s1, decorator.TransportReturnRouteAll)
		r.BindConnection(s1.ID(), "conn-1")
		r.SaveSession(s2, decorator.TransportReturnRouteAll)
		r.BindConnection(s2.ID(), "conn-1")

		r.RemoveSession(s1)

		e, ok := r.FindSession("conn-1")
		require.True(t, ok)
		require.Equal(t, s2.ID(), e.Session.ID())
	})

	t.Run("rebinding a session moves it to the new connection", func(t *testing.T) {
		r := NewRegistry()
		s := mocktransport.NewMockSession()

		r.SaveSession(s, decorator.TransportReturnRouteAll)
		r.BindConnection(s.ID(), "conn-1")
		r.BindConnection(s.ID(), "conn-2")

		_, ok := r.FindSession("conn-1")
		require.False(t, ok)

		_, ok = r.FindSession("conn-2")
		require.True(t, ok)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		r := NewRegistry()
		s := mocktransport.NewMockSession()

		r.SaveSession(s, "")
		r.RemoveSession(s)
		r.RemoveSession(s)
		r.RemoveSession(nil)
		r.SaveSession(nil, "")

		require.Equal(t, 0, r.Len())
	})
}
